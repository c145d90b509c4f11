package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lox/cardengine/internal/journal"
	"github.com/rs/zerolog"
)

// HistoryCmd prints a session's journaled signals as JSON lines.
type HistoryCmd struct {
	Journal string `required:"" help:"Path to the SQLite journal" type:"existingfile"`
	Session uint64 `arg:"" help:"Session id"`
}

func (c *HistoryCmd) Run() error {
	j, err := journal.Open(c.Journal, zerolog.Nop())
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.History(context.Background(), c.Session)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no signals recorded for session %d", c.Session)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
