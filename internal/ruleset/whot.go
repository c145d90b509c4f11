package ruleset

import (
	"fmt"

	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/rng"
)

// Shape is the suit of a Whot card, stored in the high bits of its value.
type Shape uint8

const (
	Circle Shape = iota
	Cross
	Triangle
	Square
	Star
	WhotShape
)

const (
	shapeShift = 5
	numberMask = 0x1f

	// WhotNumber is the number carried by wildcard cards.
	WhotNumber = 20
)

var shapeNames = [...]string{"circle", "cross", "triangle", "square", "star", "whot"}

func (s Shape) String() string {
	if int(s) < len(shapeNames) {
		return shapeNames[s]
	}
	return fmt.Sprintf("Shape(%d)", uint8(s))
}

// WhotCard packs a shape and number into a card value.
func WhotCard(shape Shape, number uint8) uint64 {
	return uint64(shape)<<shapeShift | uint64(number&numberMask)
}

// SplitWhot unpacks a card value into shape and number.
func SplitWhot(card uint64) (Shape, uint8) {
	return Shape(card >> shapeShift), uint8(card & numberMask)
}

// WhotDeck is the 54-card deck in index order.
var WhotDeck = []uint64{
	1, 2, 3, 4, 5, 7, 8, 10, 11, 12, 13, 14,
	65, 66, 67, 68, 69, 71, 72, 74, 75, 76, 77, 78,
	33, 34, 35, 37, 39, 42, 43, 45, 46,
	97, 98, 99, 101, 103, 106, 107, 109, 110,
	129, 130, 131, 132, 133, 135, 136,
	180, 180, 180, 180, 180,
}

// Whot implements the Nigerian Whot rule table.
//
//	1  hold on        the player goes again
//	2  pick two       next player draws 2 and loses the turn
//	5  pick three     next player draws 3 and loses the turn
//	8  suspension     next player is skipped
//	14 general market every other player draws 1, the player goes again
//	20 whot           wildcard, the player names the next shape
type Whot struct{}

func (Whot) Name() string { return "whot" }

func (Whot) DealHand(market deck.Deck, size int, src rng.Source, seed uint64) ([]int, error) {
	return DealFromMarket(market, size, src, seed)
}

// PickOpeningCall leaves the call card empty so the first play is free.
func (Whot) PickOpeningCall(deck.Deck, rng.Source, uint64) (int, bool) {
	return 0, false
}

func (Whot) Matches(call, card uint64) bool {
	if call == 0 {
		return true
	}
	cs, cn := SplitWhot(call)
	s, n := SplitWhot(card)
	if s == WhotShape {
		return true
	}
	return s == cs || n == cn
}

func (Whot) EffectOf(card uint64) Effect {
	_, n := SplitWhot(card)
	switch n {
	case 1:
		return Effect{HoldOn: true}
	case 2:
		return Effect{ForceDraw: 2, Skip: 1}
	case 5:
		return Effect{ForceDraw: 3, Skip: 1}
	case 8:
		return Effect{Skip: 1}
	case 14:
		return Effect{MarketDraw: 1, HoldOn: true}
	case WhotNumber:
		return Effect{ShapeChoice: true}
	}
	return Effect{}
}

func (Whot) ValidShape(shape uint8) bool {
	return Shape(shape) < WhotShape
}

func (Whot) WithShape(_ uint64, shape uint8) uint64 {
	return WhotCard(Shape(shape), WhotNumber)
}

// ResolveExtended handles the three auxiliary actions. Pick draws from the
// market, Neutral passes, Defend blocks with a card of the same number as
// the call card.
func (w Whot) ResolveExtended(action Action, ctx ExtendedContext, _ []byte) (Effect, error) {
	switch action {
	case Pick:
		return Effect{SelfDraw: 1}, nil
	case Neutral:
		return Effect{}, nil
	case Defend:
		if !ctx.HasCard || ctx.Call == 0 {
			return Effect{}, ErrIllegal
		}
		_, cn := SplitWhot(ctx.Call)
		_, n := SplitWhot(ctx.Card)
		if n != cn {
			return Effect{}, ErrIllegal
		}
		return Effect{PlaysCard: true}, nil
	}
	return Effect{}, fmt.Errorf("%w: %s is not an extended action", ErrIllegal, action)
}

func (Whot) Settle(hands []HandSummary) []int {
	return SettleFewestCards(hands)
}
