package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lox/cardengine/cmd/cardengine/shared"
	"github.com/lox/cardengine/internal/client"
)

// WatchCmd follows live sessions on a running server.
type WatchCmd struct {
	Server   string   `default:"http://localhost:8080" help:"Server URL"`
	Identity string   `default:"observer" help:"Identity to connect as"`
	Token    string   `env:"CARDENGINE_TOKEN" help:"Bearer token for servers that require auth"`
	Sessions []uint64 `arg:"" optional:"" help:"Sessions to watch (default: every session listed at connect time)"`
	Debug    bool     `help:"Enable debug logging"`
}

func (c *WatchCmd) Run() error {
	level := "info"
	if c.Debug {
		level = "debug"
	}
	logger, err := shared.SetupLogger(level, false)
	if err != nil {
		return err
	}
	ctx := shared.SetupSignalHandler(logger)

	identity := c.Identity
	var opts []client.DialOption
	if c.Token != "" {
		// The token decides who we are.
		identity = ""
		opts = append(opts, client.WithToken(c.Token))
	}
	cl, err := client.Dial(ctx, c.Server, identity, logger, opts...)
	if err != nil {
		return err
	}
	defer cl.Close()

	ids := c.Sessions
	if len(ids) == 0 {
		listed, err := cl.Sessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range listed {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no sessions to watch on %s", c.Server)
	}
	for _, id := range ids {
		if err := cl.Watch(ctx, id); err != nil {
			return fmt.Errorf("watch session %d: %w", id, err)
		}
	}
	logger.Info().Uints64("sessions", ids).Msg("Watching sessions")

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-cl.Signals():
			if !ok {
				return fmt.Errorf("server closed the connection")
			}
			if err := enc.Encode(sig); err != nil {
				return err
			}
		}
	}
}
