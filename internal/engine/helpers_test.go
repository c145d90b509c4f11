package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/manager"
	"github.com/lox/cardengine/internal/oracle"
	"github.com/lox/cardengine/internal/rng"
	"github.com/lox/cardengine/internal/ruleset"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	engine   *Engine
	oracle   *oracle.Manual
	clock    *quartz.Mock
	events   *Recorder
	managers *manager.Registry
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	clock := quartz.NewMock(t)
	o := oracle.NewManual()
	rec := &Recorder{}
	bus := NewEventBus()
	bus.Subscribe(rec)
	mgrs := manager.NewRegistry()

	base := []Option{
		WithClock(clock),
		WithRNG(rng.NewPCG(1)),
		WithOracle(o),
		WithEventBus(bus),
		WithManagers(mgrs),
		WithIdleTimeout(5 * time.Minute),
	}
	e := New(testLogger(), append(base, opts...)...)
	return &harness{
		t:        t,
		ctx:      context.Background(),
		engine:   e,
		oracle:   o,
		clock:    clock,
		events:   rec,
		managers: mgrs,
	}
}

func whotParams(maxPlayers, handSize int, proposed ...string) CreateParams {
	return CreateParams{
		Ruleset:         "whot",
		CardWidth:       deck.Width8,
		Capacity:        len(ruleset.WhotDeck),
		MaxPlayers:      maxPlayers,
		InitialHandSize: handSize,
		ProposedPlayers: proposed,
		DeckCommitment:  "deck-commitment",
	}
}

// startedSession creates a session proposed to players, joins them in order
// and starts it as "host".
func (h *harness) startedSession(p CreateParams, players ...string) uint64 {
	h.t.Helper()
	id, err := h.engine.Create(h.ctx, "host", p)
	require.NoError(h.t, err)
	for _, pl := range players {
		_, err := h.engine.Join(h.ctx, id, pl)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, h.engine.Start(h.ctx, id, "host"))
	return id
}

func (h *harness) view(id uint64) SessionView {
	h.t.Helper()
	v, err := h.engine.Session(id)
	require.NoError(h.t, err)
	return v
}

func (h *harness) player(id uint64, idx int) PlayerView {
	h.t.Helper()
	p, err := h.engine.Player(id, idx)
	require.NoError(h.t, err)
	return p
}

// current returns the seat and identity whose turn it is.
func (h *harness) current(id uint64) (int, string) {
	h.t.Helper()
	v := h.view(id)
	return v.CurrentTurn, h.player(id, v.CurrentTurn).Owner
}

// anyCard returns some index from seat's hand.
func (h *harness) anyCard(id uint64, seat int) int {
	h.t.Helper()
	hand := h.player(id, seat).Hand.Indices()
	require.NotEmpty(h.t, hand)
	return hand[0]
}

// notHeldBy returns an index that seat does not hold.
func (h *harness) notHeldBy(id uint64, seat int) int {
	h.t.Helper()
	hand := h.player(id, seat).Hand
	for i := 0; i < hand.Capacity(); i++ {
		if !hand.Contains(i) {
			return i
		}
	}
	h.t.Fatal("player holds every card")
	return -1
}

// fulfillLast answers the most recent oracle request with values.
func (h *harness) fulfillLast(values ...uint64) oracle.Request {
	h.t.Helper()
	req, ok := h.oracle.Last()
	require.True(h.t, ok, "no oracle request recorded")
	require.Len(h.t, req.Refs, len(values), "refs %v", req.Refs)
	require.NoError(h.t, h.engine.Fulfill(req.ID, values))
	return req
}

// play commits, fulfills and executes a Play of a card with the given
// revealed value for the current player.
func (h *harness) play(id uint64, value uint64, extra []byte) (int, error) {
	h.t.Helper()
	seat, owner := h.current(id)
	_, err := h.engine.CommitMove(h.ctx, id, owner, ruleset.Play, h.anyCard(id, seat))
	require.NoError(h.t, err)
	h.fulfillLast(value)
	return seat, h.engine.ExecuteMove(h.ctx, id, owner, ruleset.Play, extra)
}

// requireConservation checks every card index sits in exactly one deck.
func (h *harness) requireConservation(id uint64) {
	h.t.Helper()
	v := h.view(id)
	decks := []deck.Deck{v.Market, v.Discard}
	players, err := h.engine.Players(id)
	require.NoError(h.t, err)
	for _, p := range players {
		decks = append(decks, p.Hand)
	}

	seen := make([]int, v.Capacity)
	for _, d := range decks {
		for _, i := range d.Indices() {
			seen[i]++
		}
	}
	for i, n := range seen {
		require.Equal(h.t, 1, n, "card index %d appears in %d decks", i, n)
	}
}

func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d).MustWait(h.ctx)
}
