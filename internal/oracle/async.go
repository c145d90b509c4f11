package oracle

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Opener reveals a single sealed value for the session that owns it.
type Opener interface {
	Open(session uint64, commitment string, index int) (uint64, error)
}

// Async resolves requests on a pool of worker goroutines and publishes the
// results on the Fulfillments channel.
type Async struct {
	opener   Opener
	logger   zerolog.Logger
	workers  int
	requests chan Request
	out      chan Fulfillment

	pending atomic.Int64
}

// AsyncOption configures an Async oracle.
type AsyncOption func(*Async)

// WithWorkers sets the number of resolving goroutines.
func WithWorkers(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithQueueSize sets how many requests may wait for a worker.
func WithQueueSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.requests = make(chan Request, n)
			a.out = make(chan Fulfillment, n)
		}
	}
}

// NewAsync returns an oracle that reveals values through opener. Call Run
// to start its workers.
func NewAsync(opener Opener, logger zerolog.Logger, opts ...AsyncOption) *Async {
	a := &Async{
		opener:   opener,
		logger:   logger.With().Str("component", "oracle").Logger(),
		workers:  4,
		requests: make(chan Request, 256),
		out:      make(chan Fulfillment, 256),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RequestReveal queues refs for resolution. It never waits for a worker.
func (a *Async) RequestReveal(ctx context.Context, refs []Ref) (RequestID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	req := Request{ID: NewRequestID(), Refs: append([]Ref(nil), refs...)}
	a.pending.Add(1)
	select {
	case a.requests <- req:
		a.logger.Debug().
			Str("request_id", string(req.ID)).
			Int("refs", len(refs)).
			Msg("Reveal requested")
		return req.ID, nil
	default:
		a.pending.Add(-1)
		return "", ErrQueueFull
	}
}

// Fulfillments is the delivery channel for resolved requests.
func (a *Async) Fulfillments() <-chan Fulfillment {
	return a.out
}

// Pending returns the number of requests not yet delivered.
func (a *Async) Pending() int {
	return int(a.pending.Load())
}

// Run resolves requests until ctx is cancelled.
func (a *Async) Run(ctx context.Context) error {
	a.logger.Info().Int("workers", a.workers).Msg("Oracle started")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < a.workers; i++ {
		g.Go(func() error {
			return a.work(ctx)
		})
	}
	err := g.Wait()
	a.logger.Info().Msg("Oracle stopped")
	return err
}

func (a *Async) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-a.requests:
			f := a.resolve(req)
			select {
			case a.out <- f:
				a.pending.Add(-1)
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (a *Async) resolve(req Request) Fulfillment {
	f := Fulfillment{RequestID: req.ID, Results: make([]uint64, 0, len(req.Refs))}
	for _, ref := range req.Refs {
		v, err := a.opener.Open(ref.Session, ref.Commitment, ref.Index)
		if err != nil {
			a.logger.Warn().
				Err(err).
				Str("request_id", string(req.ID)).
				Uint64("session_id", ref.Session).
				Int("index", ref.Index).
				Msg("Reveal failed")
			return Fulfillment{RequestID: req.ID, Err: fmt.Errorf("reveal index %d: %w", ref.Index, err)}
		}
		f.Results = append(f.Results, v)
	}
	return f
}
