package ruleset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhotDeckComposition(t *testing.T) {
	t.Parallel()

	assert.Len(t, WhotDeck, 54)

	whots := 0
	for _, v := range WhotDeck {
		shape, n := SplitWhot(v)
		if shape == WhotShape {
			whots++
			assert.Equal(t, uint8(WhotNumber), n)
			continue
		}
		assert.True(t, n >= 1 && n <= 14, "card %d has number %d", v, n)
	}
	assert.Equal(t, 5, whots)
	assert.Equal(t, uint64(180), WhotCard(WhotShape, WhotNumber))
}

func TestWhotShapeLabels(t *testing.T) {
	t.Parallel()

	numbers := map[Shape][]uint8{}
	for _, v := range WhotDeck {
		shape, n := SplitWhot(v)
		numbers[shape] = append(numbers[shape], n)
	}

	full := []uint8{1, 2, 3, 4, 5, 7, 8, 10, 11, 12, 13, 14}
	short := []uint8{1, 2, 3, 5, 7, 10, 11, 13, 14}
	assert.Equal(t, full, numbers[Circle])
	assert.Equal(t, full, numbers[Triangle])
	assert.Equal(t, short, numbers[Cross])
	assert.Equal(t, short, numbers[Square])
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 7, 8}, numbers[Star])

	assert.Equal(t, "cross", Cross.String())
	assert.Equal(t, "triangle", Triangle.String())
	assert.Equal(t, uint64(72), WhotCard(Triangle, 8))
}

func TestWhotMatches(t *testing.T) {
	t.Parallel()

	w := Whot{}
	circle3 := WhotCard(Circle, 3)
	circle7 := WhotCard(Circle, 7)
	cross3 := WhotCard(Cross, 3)
	star8 := WhotCard(Star, 8)

	assert.True(t, w.Matches(0, star8), "empty call matches anything")
	assert.True(t, w.Matches(circle3, circle7), "same shape")
	assert.True(t, w.Matches(circle3, cross3), "same number")
	assert.False(t, w.Matches(circle3, star8))
	assert.True(t, w.Matches(circle3, WhotCard(WhotShape, WhotNumber)), "whot matches anything")

	called := w.WithShape(180, uint8(Star))
	assert.True(t, w.Matches(called, star8))
	assert.False(t, w.Matches(called, circle7))
}

func TestWhotEffects(t *testing.T) {
	t.Parallel()

	w := Whot{}
	tests := []struct {
		card uint64
		want Effect
	}{
		{WhotCard(Circle, 1), Effect{HoldOn: true}},
		{WhotCard(Cross, 2), Effect{ForceDraw: 2, Skip: 1}},
		{WhotCard(Square, 5), Effect{ForceDraw: 3, Skip: 1}},
		{WhotCard(Triangle, 8), Effect{Skip: 1}},
		{WhotCard(Circle, 14), Effect{MarketDraw: 1, HoldOn: true}},
		{WhotCard(WhotShape, WhotNumber), Effect{ShapeChoice: true}},
		{WhotCard(Star, 7), Effect{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.EffectOf(tt.card), "card %d", tt.card)
	}

	assert.True(t, w.ValidShape(uint8(Star)))
	assert.False(t, w.ValidShape(uint8(WhotShape)))
	assert.False(t, w.ValidShape(9))
}

func TestWhotResolveExtended(t *testing.T) {
	t.Parallel()

	w := Whot{}

	eff, err := w.ResolveExtended(Pick, ExtendedContext{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, Effect{SelfDraw: 1}, eff)

	eff, err = w.ResolveExtended(Neutral, ExtendedContext{}, nil)
	assert.NoError(t, err)
	assert.Equal(t, Effect{}, eff)

	call := WhotCard(Circle, 2)
	eff, err = w.ResolveExtended(Defend, ExtendedContext{Call: call, Card: WhotCard(Star, 2), HasCard: true}, nil)
	assert.NoError(t, err)
	assert.True(t, eff.PlaysCard)

	_, err = w.ResolveExtended(Defend, ExtendedContext{Call: call, Card: WhotCard(Circle, 3), HasCard: true}, nil)
	assert.True(t, errors.Is(err, ErrIllegal))

	_, err = w.ResolveExtended(Play, ExtendedContext{}, nil)
	assert.True(t, errors.Is(err, ErrIllegal))
}
