package deck

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullValueMatchesFormula(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{1, 7, 54, 64, 65, 254} {
		for w := Width2; w <= Width16; w++ {
			d, err := Full(w, capacity)
			require.NoError(t, err)

			want := new(big.Int).Lsh(big.NewInt(1), uint(capacity))
			want.Sub(want, big.NewInt(1))
			want.Lsh(want, 2)
			want.Or(want, big.NewInt(int64(w)&0x3))

			assert.Equal(t, 0, d.Value().Cmp(want), "capacity=%d width=%v", capacity, w)
			assert.Equal(t, capacity, d.Count())
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	present := []int{0, 3, 17, 53}
	d, err := Encode(Width8, 54, present)
	require.NoError(t, err)

	width, got := Decode(d)
	assert.Equal(t, Width8, width)
	assert.Equal(t, present, got)

	back, err := FromValue(d.Value(), 54)
	require.NoError(t, err)
	assert.True(t, back.Equal(d))
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	t.Parallel()

	_, err := Encode(Width8, 10, []int{10})
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))

	_, err = Encode(Width8, 10, []int{-1})
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))

	_, err = Empty(Width8, 0)
	assert.True(t, errors.Is(err, ErrInvalidCapacity))

	_, err = Empty(Width(4), 10)
	assert.True(t, errors.Is(err, ErrInvalidWidth))
}

func TestMutatorsDoNotAliasReceiver(t *testing.T) {
	t.Parallel()

	full, err := Full(Width8, 8)
	require.NoError(t, err)

	removed, err := full.Remove(3)
	require.NoError(t, err)
	assert.True(t, full.Contains(3), "receiver must be unchanged")
	assert.False(t, removed.Contains(3))
	assert.Equal(t, 7, removed.Count())

	added, err := removed.Add(3)
	require.NoError(t, err)
	assert.True(t, added.Equal(full))

	_, err = full.Add(8)
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
	assert.False(t, full.Contains(8))
	assert.False(t, full.Contains(-1))
}

func TestNthAndIndices(t *testing.T) {
	t.Parallel()

	d, err := Encode(Width4, 20, []int{19, 2, 11})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 11, 19}, d.Indices())

	i, ok := d.Nth(1)
	require.True(t, ok)
	assert.Equal(t, 11, i)

	_, ok = d.Nth(3)
	assert.False(t, ok)
}

func TestUnionAndIntersects(t *testing.T) {
	t.Parallel()

	a, _ := Encode(Width8, 10, []int{1, 2})
	b, _ := Encode(Width8, 10, []int{3})
	c, _ := Encode(Width8, 10, []int{2, 9})

	u, err := a.Union(b)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, u.Indices())
	assert.False(t, a.Intersects(b))
	assert.True(t, a.Intersects(c))

	other, _ := Encode(Width8, 11, nil)
	_, err = a.Union(other)
	assert.Error(t, err)
}

func TestFromValueRejectsOversizedValue(t *testing.T) {
	t.Parallel()

	v := new(big.Int).Lsh(big.NewInt(1), 12)
	_, err := FromValue(v, 10)
	assert.True(t, errors.Is(err, ErrValueOutOfBounds))

	d, err := FromValue(big.NewInt(0b1010), 10)
	require.NoError(t, err)
	assert.Equal(t, Width8, d.Width())
	assert.Equal(t, []int{1}, d.Indices())
}
