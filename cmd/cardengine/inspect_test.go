package main

import (
	"math/big"
	"strings"
	"testing"

	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deckBytes(t *testing.T, present ...int) []byte {
	t.Helper()
	d, err := deck.Encode(deck.Width8, 8, present)
	require.NoError(t, err)
	return d.Value().Bytes()
}

func TestRenderSnapshot(t *testing.T) {
	snap := snapshot.Snapshot{
		Version: snapshot.Version,
		Session: snapshot.SessionRecord{
			ID:        3,
			Creator:   "host",
			Ruleset:   "whot",
			Capacity:  8,
			Status:    "ended",
			EndReason: "hand_emptied",
			Market:    deckBytes(t, 0, 1, 2),
			Discard:   deckBytes(t, 3, 4),
			Winners:   []int{0},
		},
		Players: []snapshot.PlayerRecord{
			{Index: 0, Owner: "alice", Hand: deckBytes(t)},
			{Index: 1, Owner: "bob", Hand: deckBytes(t, 5, 6, 7), Forfeited: true, Score: 3},
		},
	}

	out, err := renderSnapshot(snap)
	require.NoError(t, err)

	for _, want := range []string{"Session 3", "whot", "hand_emptied", "3 cards", "2 cards", "alice", "winner", "bob", "forfeited"} {
		assert.Contains(t, out, want)
	}
	assert.Equal(t, 1, strings.Count(out, "winner"))
}

func TestRenderSnapshotBadDeck(t *testing.T) {
	snap := snapshot.Snapshot{
		Session: snapshot.SessionRecord{
			Capacity: 2,
			Market:   new(big.Int).Lsh(big.NewInt(1), 40).Bytes(),
		},
	}
	_, err := renderSnapshot(snap)
	assert.Error(t, err)
}
