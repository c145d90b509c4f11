package main

import (
	"github.com/lox/cardengine/cmd/cardengine/shared"
	"github.com/lox/cardengine/internal/confidential"
	"github.com/lox/cardengine/internal/config"
	"github.com/lox/cardengine/internal/engine"
	"github.com/lox/cardengine/internal/journal"
	"github.com/lox/cardengine/internal/oracle"
	"github.com/lox/cardengine/internal/rng"
	"github.com/lox/cardengine/internal/ruleset"
	"github.com/lox/cardengine/internal/server"
	"github.com/lox/cardengine/internal/snapshot"
	"github.com/lox/cardengine/internal/statistics"
	"golang.org/x/sync/errgroup"
)

// ServeCmd runs the websocket server with the oracle, sweeper and
// storage components the configuration enables.
type ServeCmd struct {
	Config string `kong:"default='cardengine.hcl',help='Path to HCL config file'"`
	Debug  bool   `kong:"help='Enable debug logging'"`
	JSON   bool   `kong:"name='json',help='Log as JSON'"`
}

func (c *ServeCmd) Run() error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	level := cfg.Server.LogLevel
	if c.Debug {
		level = "debug"
	}
	logger, err := shared.SetupLogger(level, c.JSON)
	if err != nil {
		return err
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}

	vault := confidential.NewVault()
	reveals := oracle.NewAsync(vault, logger,
		oracle.WithWorkers(cfg.Engine.OracleWorkers),
		oracle.WithQueueSize(cfg.Engine.OracleQueue),
	)
	eng := engine.New(logger, append(opts, engine.WithOracle(reveals), engine.WithClaimer(vault))...)

	var shuffle rng.Source = rng.Crypto{}
	if cfg.Engine.Seed != 0 {
		logger.Info().Int64("seed", cfg.Engine.Seed).Msg("Using deterministic seed")
		shuffle = rng.NewPCG(cfg.Engine.Seed)
	}
	stats := statistics.NewCollector()
	eng.Bus().Subscribe(stats)

	serverOpts := []server.Option{
		server.WithDealer(vault, shuffle, map[string][]uint64{
			ruleset.Whot{}.Name(): ruleset.WhotDeck,
		}),
		server.WithStats(stats),
	}
	if v := cfg.BuildValidator(); v != nil {
		serverOpts = append(serverOpts, server.WithAuth(v))
	} else {
		logger.Warn().Msg("No auth configured, clients choose their own identity")
	}
	srv := server.New(cfg.Address(), eng, logger, serverOpts...)

	ctx := shared.SetupSignalHandler(logger)
	g, gctx := errgroup.WithContext(ctx)

	if path := cfg.Storage.JournalPath; path != "" {
		j, err := journal.Open(path, logger)
		if err != nil {
			return err
		}
		defer j.Close()
		eng.Bus().Subscribe(j)
		logger.Info().Str("path", path).Msg("Journal enabled")
	}

	if dir := cfg.Storage.ArchiveDir; dir != "" {
		archiver := snapshot.NewArchiver(dir, logger)
		eng.Bus().Subscribe(archiver)
		g.Go(func() error { return archiver.Run(gctx) })
	}

	if cfg.Sweeper.Enabled {
		sweeper := engine.NewSweeper(eng, cfg.Sweeper.Identity, cfg.Sweeper.Interval, logger)
		g.Go(func() error { return sweeper.Run(gctx) })
	}

	g.Go(func() error { return reveals.Run(gctx) })
	g.Go(func() error { return eng.ConsumeFulfillments(gctx, reveals.Fulfillments()) })
	g.Go(func() error { return srv.Run(gctx) })

	logger.Info().
		Str("address", cfg.Address()).
		Dur("idle_timeout", cfg.Engine.IdleTimeout).
		Strs("rulesets", rulesetNames(cfg)).
		Int("managers", len(cfg.Managers)).
		Msg("Starting card engine")

	return g.Wait()
}

func rulesetNames(cfg *config.Config) []string {
	names := []string{ruleset.Whot{}.Name()}
	for _, r := range cfg.Rulesets {
		names = append(names, r.Name)
	}
	return names
}
