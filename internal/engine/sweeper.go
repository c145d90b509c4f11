package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically boots the current player of idle sessions, acting
// as a manager identity. Sessions that do not name that identity as their
// manager are left alone by the capability gate.
type Sweeper struct {
	engine   *Engine
	identity string
	interval time.Duration
	logger   zerolog.Logger
}

// NewSweeper returns a sweeper acting as identity every interval. A
// non-positive interval defaults to one minute.
func NewSweeper(e *Engine, identity string, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		engine:   e,
		identity: identity,
		interval: interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) error {
	sw.logger.Info().
		Str("identity", sw.identity).
		Dur("interval", sw.interval).
		Msg("Idle sweeper started")

	w := sw.engine.clock.TickerFunc(ctx, sw.interval, func() error {
		sw.Sweep(ctx)
		return nil
	}, "sweeper")
	err := w.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Sweep makes one pass and returns the number of players booted.
func (sw *Sweeper) Sweep(ctx context.Context) int {
	booted := 0
	for _, v := range sw.engine.IdleSessions() {
		if v.Manager != sw.identity {
			continue
		}
		err := sw.engine.BootOut(ctx, v.ID, sw.identity, v.CurrentTurn)
		if err != nil {
			sw.logger.Debug().
				Err(err).
				Uint64("session_id", v.ID).
				Int("player", v.CurrentTurn).
				Msg("Boot out skipped")
			continue
		}
		booted++
	}
	if booted > 0 {
		sw.logger.Info().Int("booted", booted).Msg("Idle players booted")
	}
	return booted
}
