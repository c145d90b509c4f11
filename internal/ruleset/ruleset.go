// Package ruleset defines the pluggable rule table the engine consults for
// card effects, legality and dealing, along with the Whot and Lua providers.
package ruleset

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/rng"
)

// ErrIllegal is returned by ResolveExtended when an extended action cannot
// be applied in the current context.
var ErrIllegal = errors.New("ruleset: action not permitted")

// ErrInsufficientCards is returned when the market cannot supply a deal.
var ErrInsufficientCards = errors.New("ruleset: not enough cards in market")

// Action is the kind of move a player commits.
type Action uint8

const (
	Play Action = iota + 1
	Draw
	Defend
	Pick
	Neutral
)

var actionNames = map[Action]string{
	Play:    "play",
	Draw:    "draw",
	Defend:  "defend",
	Pick:    "pick",
	Neutral: "neutral",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Valid reports whether a is a known action kind.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// NeedsCard reports whether the action references a card index in the
// acting player's hand.
func (a Action) NeedsCard() bool {
	return a == Play || a == Defend
}

// Extended reports whether the action is resolved by the ruleset.
func (a Action) Extended() bool {
	return a == Defend || a == Pick || a == Neutral
}

// ParseAction maps an action name to its kind.
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if strings.EqualFold(name, s) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("unknown action %d", uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Effect describes what applying a move does beyond moving the card.
type Effect struct {
	// Skip is the number of extra active players passed over.
	Skip int
	// ForceDraw is how many cards the next active player draws.
	ForceDraw int
	// MarketDraw is how many cards every other active player draws.
	MarketDraw int
	// SelfDraw is how many cards the acting player draws.
	SelfDraw int
	// HoldOn keeps the turn with the acting player.
	HoldOn bool
	// ShapeChoice requires a shape selection in the execute payload.
	ShapeChoice bool
	// PlaysCard moves the committed card to the discard pile as a play.
	PlaysCard bool
}

// ExtendedContext is handed to ResolveExtended.
type ExtendedContext struct {
	Call    uint64
	Card    uint64
	HasCard bool
}

// HandSummary is a per-seat view used for settlement.
type HandSummary struct {
	Seat   int
	Cards  int
	Active bool
}

// Ruleset is the rule table for one card game.
type Ruleset interface {
	Name() string
	// DealHand picks size indices from market.
	DealHand(market deck.Deck, size int, src rng.Source, seed uint64) ([]int, error)
	// PickOpeningCall optionally picks a market index to open the discard
	// pile with. ok is false when the game starts without a call card.
	PickOpeningCall(market deck.Deck, src rng.Source, seed uint64) (index int, ok bool)
	Matches(call, card uint64) bool
	EffectOf(card uint64) Effect
	ValidShape(shape uint8) bool
	// WithShape returns the call card value announced by a wildcard.
	WithShape(card uint64, shape uint8) uint64
	ResolveExtended(action Action, ctx ExtendedContext, extra []byte) (Effect, error)
	// Settle picks winners when the market runs dry.
	Settle(hands []HandSummary) []int
}

// DealFromMarket picks size indices from market using a permutation from src.
func DealFromMarket(market deck.Deck, size int, src rng.Source, seed uint64) ([]int, error) {
	available := market.Count()
	if size > available {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrInsufficientCards, size, available)
	}
	if size == 0 {
		return nil, nil
	}
	perm := src.Permutation(seed, available)
	out := make([]int, 0, size)
	for _, k := range perm[:size] {
		idx, ok := market.Nth(k)
		if !ok {
			return nil, fmt.Errorf("ruleset: permutation index %d outside market", k)
		}
		out = append(out, idx)
	}
	return out, nil
}

// SettleFewestCards returns the active seats holding the fewest cards.
func SettleFewestCards(hands []HandSummary) []int {
	best := -1
	var winners []int
	for _, h := range hands {
		if !h.Active {
			continue
		}
		switch {
		case best < 0 || h.Cards < best:
			best = h.Cards
			winners = []int{h.Seat}
		case h.Cards == best:
			winners = append(winners, h.Seat)
		}
	}
	sort.Ints(winners)
	return winners
}

// Registry resolves ruleset references by name.
type Registry struct {
	mu       sync.RWMutex
	rulesets map[string]Ruleset
}

// NewRegistry returns a registry holding rulesets.
func NewRegistry(rulesets ...Ruleset) *Registry {
	r := &Registry{rulesets: make(map[string]Ruleset)}
	for _, rs := range rulesets {
		r.Register(rs)
	}
	return r
}

// Register adds or replaces a ruleset under its name.
func (r *Registry) Register(rs Ruleset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rulesets[rs.Name()] = rs
}

// Get looks up a ruleset by name.
func (r *Registry) Get(name string) (Ruleset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rulesets[name]
	return rs, ok
}

// Names returns the registered ruleset names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rulesets))
	for name := range r.rulesets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
