package snapshot

import (
	"context"
	"errors"

	"github.com/lox/cardengine/internal/engine"
	"github.com/rs/zerolog"
)

const defaultBacklog = 64

// Archiver writes a snapshot for every session that ends. OnEvent only
// queues; Run does the disk work off the engine's lock.
type Archiver struct {
	dir     string
	logger  zerolog.Logger
	pending chan engine.SessionEndedEvent
	written chan string
}

func NewArchiver(dir string, logger zerolog.Logger) *Archiver {
	return &Archiver{
		dir:     dir,
		logger:  logger.With().Str("component", "archiver").Logger(),
		pending: make(chan engine.SessionEndedEvent, defaultBacklog),
	}
}

// Notify returns a channel that receives the path of every written
// snapshot. It must be called before Run.
func (a *Archiver) Notify() <-chan string {
	if a.written == nil {
		a.written = make(chan string, defaultBacklog)
	}
	return a.written
}

func (a *Archiver) OnEvent(event engine.Event) {
	ended, ok := event.(engine.SessionEndedEvent)
	if !ok {
		return
	}
	select {
	case a.pending <- ended:
	default:
		a.logger.Warn().
			Uint64("session_id", ended.SessionID()).
			Msg("Archive backlog full, dropping snapshot")
	}
}

// Run drains queued sessions until ctx is done.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case ended := <-a.pending:
			path, err := Write(a.dir, FromViews(ended.View, ended.Players))
			if err != nil {
				a.logger.Error().Err(err).
					Uint64("session_id", ended.SessionID()).
					Msg("Failed to write snapshot")
				continue
			}
			a.logger.Info().
				Uint64("session_id", ended.SessionID()).
				Str("path", path).
				Str("reason", string(ended.Reason)).
				Msg("Session archived")
			if a.written != nil {
				select {
				case a.written <- path:
				default:
				}
			}
		}
	}
}
