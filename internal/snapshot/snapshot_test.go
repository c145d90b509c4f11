package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/engine"
	"github.com/lox/cardengine/internal/rng"
	"github.com/lox/cardengine/internal/ruleset"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"
)

func endedSession(t *testing.T, subscribers ...engine.Subscriber) (*engine.Engine, uint64) {
	t.Helper()

	e := engine.New(zerolog.Nop(), engine.WithRNG(rng.NewPCG(7)))
	for _, s := range subscribers {
		e.Bus().Subscribe(s)
	}
	ctx := context.Background()
	id, err := e.Create(ctx, "host", engine.CreateParams{
		Ruleset:         "whot",
		CardWidth:       deck.Width8,
		Capacity:        len(ruleset.WhotDeck),
		MaxPlayers:      2,
		InitialHandSize: 4,
		ProposedPlayers: []string{"alice", "bob"},
		DeckCommitment:  "commitment",
	})
	require.NoError(t, err)
	for _, p := range []string{"alice", "bob"} {
		_, err := e.Join(ctx, id, p)
		require.NoError(t, err)
	}
	require.NoError(t, e.Start(ctx, id, "host"))
	require.NoError(t, e.Forfeit(ctx, id, "bob"))
	return e, id
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	e, id := endedSession(t)
	view, err := e.Session(id)
	require.NoError(t, err)
	players, err := e.Players(id)
	require.NoError(t, err)

	snap := FromViews(view, players)
	dir := t.TempDir()
	path, err := Write(dir, snap)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session-1.msgp"), path)

	got, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, Version, got.Version)
	assert.Equal(t, id, got.Session.ID)
	assert.Equal(t, "ended", got.Session.Status)
	assert.Equal(t, string(engine.EndLastPlayerStanding), got.Session.EndReason)
	assert.Equal(t, []int{0}, got.Session.Winners)
	assert.Equal(t, view.CallCard, got.Session.CallCard)
	require.Len(t, got.Players, 2)
	assert.Equal(t, "alice", got.Players[0].Owner)
	assert.True(t, got.Players[1].Forfeited)

	market, err := got.Session.MarketDeck()
	require.NoError(t, err)
	assert.True(t, market.Equal(view.Market), "market %s != %s", market, view.Market)

	discard, err := got.Session.DiscardDeck()
	require.NoError(t, err)
	assert.True(t, discard.Equal(view.Discard))

	hand, err := got.HandDeck(got.Players[0])
	require.NoError(t, err)
	assert.True(t, hand.Equal(players[0].Hand))
	assert.Equal(t, hand.Count(), got.Players[0].Score)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	t.Parallel()

	snap := Snapshot{Version: Version, Session: SessionRecord{ID: 9, Ruleset: "whot"}}
	b, err := snap.MarshalMsg(nil)
	require.NoError(t, err)

	// Re-encode with an extra trailing key the decoder does not know.
	extra := msgp.AppendMapHeader(nil, 5)
	extra = msgp.AppendString(extra, "future")
	extra = msgp.AppendString(extra, "value")
	_, rest, err := msgp.ReadMapHeaderBytes(b)
	require.NoError(t, err)
	extra = append(extra, rest...)

	var got Snapshot
	left, err := got.UnmarshalMsg(extra)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Equal(t, uint64(9), got.Session.ID)
	assert.Equal(t, "whot", got.Session.Ruleset)
}

func TestReadRejectsOtherVersions(t *testing.T) {
	t.Parallel()

	b, err := Snapshot{Version: Version + 1}.MarshalMsg(nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "s.msgp")
	require.NoError(t, os.WriteFile(path, b, 0o644))

	_, err = Read(path)
	assert.ErrorIs(t, err, ErrVersion)
}

func TestReadCorrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s.msgp")
	require.NoError(t, os.WriteFile(path, []byte{0xc1}, 0o644))

	_, err := Read(path)
	assert.Error(t, err)
}

func TestArchiverWritesEndedSessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := NewArchiver(dir, zerolog.Nop())
	written := a.Notify()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	_, id := endedSession(t, a)

	select {
	case path := <-written:
		assert.Equal(t, filepath.Join(dir, Filename(id)), path)
		snap, err := Read(path)
		require.NoError(t, err)
		assert.Equal(t, id, snap.Session.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot not written")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestArchiverIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	a := NewArchiver(t.TempDir(), zerolog.Nop())
	a.OnEvent(engine.SessionCreatedEvent{Creator: "host"})
	assert.Len(t, a.pending, 0)
}
