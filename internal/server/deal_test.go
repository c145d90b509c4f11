package server

import (
	"slices"
	"testing"

	"github.com/lox/cardengine/internal/confidential"
	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/engine"
	"github.com/lox/cardengine/internal/rng"
	"github.com/lox/cardengine/internal/ruleset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whotCreate() engine.CreateParams {
	return engine.CreateParams{
		Ruleset:         "whot",
		CardWidth:       deck.Width8,
		Capacity:        len(ruleset.WhotDeck),
		MaxPlayers:      2,
		InitialHandSize: 5,
	}
}

func TestDealSealsShuffledDeck(t *testing.T) {
	t.Parallel()

	vault := confidential.NewVault()
	e := engine.New(testLogger())
	s := New("", e, testLogger(), WithDealer(vault, rng.NewPCG(5), map[string][]uint64{
		"whot": ruleset.WhotDeck,
	}))

	p := whotCreate()
	require.NoError(t, s.deal(&p))
	require.NotEmpty(t, p.DeckCommitment)

	n, ok := vault.Size(p.DeckCommitment)
	require.True(t, ok)
	require.Equal(t, len(ruleset.WhotDeck), n)
	require.NoError(t, vault.Claim(p.DeckCommitment, 1))

	var opened []uint64
	for i := 0; i < n; i++ {
		v, err := vault.Open(1, p.DeckCommitment, i)
		require.NoError(t, err)
		opened = append(opened, v)
	}
	slices.Sort(opened)
	want := slices.Clone(ruleset.WhotDeck)
	slices.Sort(want)
	assert.Equal(t, want, opened)
}

func TestDealLeavesProvidedCommitment(t *testing.T) {
	t.Parallel()

	vault := confidential.NewVault()
	s := New("", engine.New(testLogger()), testLogger(), WithDealer(vault, rng.Crypto{}, map[string][]uint64{
		"whot": ruleset.WhotDeck,
	}))

	p := whotCreate()
	p.DeckCommitment = "external"
	require.NoError(t, s.deal(&p))
	assert.Equal(t, "external", p.DeckCommitment)

	// Unknown rulesets and mismatched capacities are left alone.
	p = whotCreate()
	p.Ruleset = "evens"
	require.NoError(t, s.deal(&p))
	assert.Empty(t, p.DeckCommitment)

	p = whotCreate()
	p.Capacity = 10
	require.NoError(t, s.deal(&p))
	assert.Empty(t, p.DeckCommitment)
}
