package confidential

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	t.Parallel()

	v := NewVault()
	values := []uint64{1, 180, 33, 0, 255}

	commitment, err := v.Seal(values)
	require.NoError(t, err)

	n, ok := v.Size(commitment)
	require.True(t, ok)
	assert.Equal(t, len(values), n)

	require.NoError(t, v.Claim(commitment, 1))
	for i, want := range values {
		got, err := v.Open(1, commitment, i)
		require.NoError(t, err)
		assert.Equal(t, want, got, "index %d", i)
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	v := NewVault()
	commitment, err := v.Seal([]uint64{7})
	require.NoError(t, err)

	require.NoError(t, v.Claim(commitment, 3))

	_, err = v.Open(3, commitment, 1)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))

	_, err = v.Open(3, "missing", 0)
	assert.True(t, errors.Is(err, ErrUnknownCommitment))
}

func TestDeckOpensOnlyForClaimingSession(t *testing.T) {
	t.Parallel()

	v := NewVault()
	commitment, err := v.Seal([]uint64{35, 12})
	require.NoError(t, err)

	_, err = v.Open(1, commitment, 0)
	assert.ErrorIs(t, err, ErrNotOwner, "unclaimed decks stay sealed")

	require.NoError(t, v.Claim(commitment, 1))
	assert.ErrorIs(t, v.Claim(commitment, 2), ErrAlreadyClaimed)
	assert.ErrorIs(t, v.Claim(commitment, 1), ErrAlreadyClaimed)
	assert.ErrorIs(t, v.Claim("missing", 2), ErrUnknownCommitment)
	assert.ErrorIs(t, v.Claim(commitment, 0), ErrNotOwner)

	_, err = v.Open(2, commitment, 0)
	assert.ErrorIs(t, err, ErrNotOwner)

	got, err := v.Open(1, commitment, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(35), got)
}

func TestSealIsRandomised(t *testing.T) {
	t.Parallel()

	v := NewVault()
	a, err := v.Seal([]uint64{5})
	require.NoError(t, err)
	b, err := v.Seal([]uint64{5})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.False(t, v.decks[a].values[0].C.Equal(v.decks[b].values[0].C))
}
