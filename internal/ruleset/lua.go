package ruleset

import (
	"fmt"
	"os"
	"sync"

	lua "github.com/Shopify/go-lua"

	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/rng"
)

// Lua is a ruleset whose card logic lives in a Lua script. The script must
// define matches(call, card) and effect_of(card); effect_of returns a table
// with any of skip, force_draw, market_draw, self_draw, hold_on and
// shape_choice. Optional hooks:
//
//	valid_shape(shape) -> bool
//	with_shape(card, shape) -> int
//	resolve_extended(action, call, card, has_card, extra) -> table
//	opening_call = true
//
// resolve_extended may set illegal = true or plays_card = true in its result.
type Lua struct {
	name string

	mu    sync.Mutex
	state *lua.State
}

// LoadLuaFile reads a script from disk.
func LoadLuaFile(name, path string) (*Lua, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ruleset script: %w", err)
	}
	return NewLua(name, string(src))
}

// NewLua compiles and runs src in a fresh Lua state.
func NewLua(name, src string) (*Lua, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)
	if err := lua.DoString(l, src); err != nil {
		return nil, fmt.Errorf("load ruleset %q: %w", name, err)
	}
	for _, fn := range []string{"matches", "effect_of"} {
		l.Global(fn)
		ok := l.TypeOf(-1) == lua.TypeFunction
		l.Pop(1)
		if !ok {
			return nil, fmt.Errorf("ruleset %q: script must define %s", name, fn)
		}
	}
	return &Lua{name: name, state: l}, nil
}

func (r *Lua) Name() string { return r.name }

func (r *Lua) DealHand(market deck.Deck, size int, src rng.Source, seed uint64) ([]int, error) {
	return DealFromMarket(market, size, src, seed)
}

func (r *Lua) PickOpeningCall(market deck.Deck, src rng.Source, seed uint64) (int, bool) {
	r.mu.Lock()
	r.state.Global("opening_call")
	want := r.state.ToBoolean(-1)
	r.state.Pop(1)
	r.mu.Unlock()

	if !want || market.IsEmpty() {
		return 0, false
	}
	return market.Nth(src.Index(seed, market.Count()))
}

func (r *Lua) Matches(call, card uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.state
	l.Global("matches")
	l.PushInteger(int(call))
	l.PushInteger(int(card))
	if err := pcall(l, 2); err != nil {
		return false
	}
	ok := l.ToBoolean(-1)
	l.Pop(1)
	return ok
}

func (r *Lua) EffectOf(card uint64) Effect {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.state
	l.Global("effect_of")
	l.PushInteger(int(card))
	if err := pcall(l, 1); err != nil {
		return Effect{}
	}
	eff, _ := readEffect(l)
	l.Pop(1)
	return eff
}

func (r *Lua) ValidShape(shape uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.state
	l.Global("valid_shape")
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return Shape(shape) < WhotShape
	}
	l.PushInteger(int(shape))
	if err := pcall(l, 1); err != nil {
		return false
	}
	ok := l.ToBoolean(-1)
	l.Pop(1)
	return ok
}

func (r *Lua) WithShape(card uint64, shape uint8) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.state
	l.Global("with_shape")
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return WhotCard(Shape(shape), WhotNumber)
	}
	l.PushInteger(int(card))
	l.PushInteger(int(shape))
	if err := pcall(l, 2); err != nil {
		return card
	}
	v, _ := l.ToInteger(-1)
	l.Pop(1)
	return uint64(v)
}

func (r *Lua) ResolveExtended(action Action, ctx ExtendedContext, extra []byte) (Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.state
	l.Global("resolve_extended")
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return Whot{}.ResolveExtended(action, ctx, extra)
	}
	l.PushString(action.String())
	l.PushInteger(int(ctx.Call))
	l.PushInteger(int(ctx.Card))
	l.PushBoolean(ctx.HasCard)
	l.PushString(string(extra))
	if err := pcall(l, 5); err != nil {
		return Effect{}, fmt.Errorf("ruleset %q: resolve_extended: %w", r.name, err)
	}
	eff, illegal := readEffect(l)
	l.Pop(1)
	if illegal {
		return Effect{}, ErrIllegal
	}
	return eff, nil
}

func (r *Lua) Settle(hands []HandSummary) []int {
	return SettleFewestCards(hands)
}

// pcall calls the function below nargs arguments. It leaves the single
// result on the stack on success and nothing on failure.
func pcall(l *lua.State, nargs int) error {
	if err := l.ProtectedCall(nargs, 1, 0); err != nil {
		l.Pop(1)
		return err
	}
	return nil
}

// readEffect decodes the table at the top of the stack without popping it.
func readEffect(l *lua.State) (Effect, bool) {
	var eff Effect
	if l.TypeOf(-1) != lua.TypeTable {
		return eff, false
	}
	intField := func(name string) int {
		l.Field(-1, name)
		v, _ := l.ToInteger(-1)
		l.Pop(1)
		return v
	}
	boolField := func(name string) bool {
		l.Field(-1, name)
		v := l.ToBoolean(-1)
		l.Pop(1)
		return v
	}
	eff.Skip = intField("skip")
	eff.ForceDraw = intField("force_draw")
	eff.MarketDraw = intField("market_draw")
	eff.SelfDraw = intField("self_draw")
	eff.HoldOn = boolField("hold_on")
	eff.ShapeChoice = boolField("shape_choice")
	eff.PlaysCard = boolField("plays_card")
	return eff, boolField("illegal")
}
