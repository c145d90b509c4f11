// Package engine is the authoritative state machine for confidential
// turn-based card sessions. Sessions are independent; each entry point
// serialises on the session it touches and applies fully or not at all.
package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/manager"
	"github.com/lox/cardengine/internal/oracle"
	"github.com/lox/cardengine/internal/rng"
	"github.com/lox/cardengine/internal/ruleset"
)

// DefaultIdleTimeout is how long a session may go without a move before
// its players can be booted.
const DefaultIdleTimeout = 5 * time.Minute

// Engine owns every session.
type Engine struct {
	logger      zerolog.Logger
	clock       quartz.Clock
	rng         rng.Source
	oracle      oracle.Oracle
	claimer     oracle.Claimer
	rulesets    *ruleset.Registry
	managers    *manager.Registry
	bus         EventBus
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[uint64]*session
	nextID   uint64

	reqMu    sync.Mutex
	requests map[oracle.RequestID]uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for timestamps and idleness.
func WithClock(clock quartz.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithRNG sets the source used to deal hands and pick opening cards.
func WithRNG(src rng.Source) Option {
	return func(e *Engine) { e.rng = src }
}

// WithOracle sets the oracle that reveals committed cards.
func WithOracle(o oracle.Oracle) Option {
	return func(e *Engine) { e.oracle = o }
}

// WithClaimer binds every session's deck commitment to that session at
// creation. A commitment another session already claimed is rejected.
func WithClaimer(c oracle.Claimer) Option {
	return func(e *Engine) { e.claimer = c }
}

// WithRulesets replaces the default registry, which only holds Whot.
func WithRulesets(reg *ruleset.Registry) Option {
	return func(e *Engine) { e.rulesets = reg }
}

// WithManagers sets the registry consulted for privileged operations.
func WithManagers(reg *manager.Registry) Option {
	return func(e *Engine) { e.managers = reg }
}

// WithIdleTimeout sets how long a player may stall before being booted.
// Non-positive durations are ignored.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.idleTimeout = d
		}
	}
}

// WithEventBus sets the bus signals are published on.
func WithEventBus(bus EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// New creates an engine. Without WithOracle every commit fails with
// ErrOracleUnavailable.
func New(logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:      logger.With().Str("component", "engine").Logger(),
		clock:       quartz.NewReal(),
		rulesets:    ruleset.NewRegistry(ruleset.Whot{}),
		managers:    manager.NewRegistry(),
		bus:         NewEventBus(),
		idleTimeout: DefaultIdleTimeout,
		sessions:    make(map[uint64]*session),
		requests:    make(map[oracle.RequestID]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rng.NewPCG(int64(rng.Uint64()))
	}
	return e
}

// Bus returns the event bus signals are published on.
func (e *Engine) Bus() EventBus {
	return e.bus
}

// IdleTimeout returns the configured idle threshold.
func (e *Engine) IdleTimeout() time.Duration {
	return e.idleTimeout
}

func seedFor(session, nonce uint64) uint64 {
	return rng.Derive(session, nonce)
}

// CreateParams configures a new session.
type CreateParams struct {
	Ruleset         string             `json:"ruleset"`
	CardWidth       deck.Width         `json:"card_width"`
	Capacity        int                `json:"capacity"`
	MaxPlayers      int                `json:"max_players"`
	InitialHandSize int                `json:"initial_hand_size"`
	ProposedPlayers []string           `json:"proposed_players,omitempty"`
	Manager         string             `json:"manager,omitempty"`
	Permissions     manager.Permission `json:"permissions,omitempty"`
	DeckCommitment  string             `json:"deck_commitment,omitempty"`
	// AllowEarlyStart lets the session start once two seats are filled.
	AllowEarlyStart bool `json:"allow_early_start,omitempty"`
	// SeatCreator seats the creator when ProposedPlayers is empty.
	SeatCreator bool `json:"seat_creator,omitempty"`
}

func (p CreateParams) validate(creator string) error {
	switch {
	case creator == "":
		return fmt.Errorf("%w: creator identity required", ErrInvalidConfiguration)
	case !p.CardWidth.Valid():
		return fmt.Errorf("%w: card width code %d", ErrInvalidConfiguration, p.CardWidth)
	case p.Capacity < 1 || p.Capacity > deck.MaxCapacity:
		return fmt.Errorf("%w: deck capacity %d outside [1, %d]", ErrInvalidConfiguration, p.Capacity, deck.MaxCapacity)
	case p.MaxPlayers < 2:
		return fmt.Errorf("%w: max players %d < 2", ErrInvalidConfiguration, p.MaxPlayers)
	case p.MaxPlayers > p.Capacity:
		return fmt.Errorf("%w: max players %d exceeds capacity %d", ErrInvalidConfiguration, p.MaxPlayers, p.Capacity)
	case len(p.ProposedPlayers) > p.MaxPlayers:
		return fmt.Errorf("%w: %d proposed players for %d seats", ErrInvalidConfiguration, len(p.ProposedPlayers), p.MaxPlayers)
	case p.InitialHandSize < 0:
		return fmt.Errorf("%w: negative initial hand size", ErrInvalidConfiguration)
	case p.InitialHandSize > p.Capacity:
		return fmt.Errorf("%w: initial hand size %d exceeds capacity %d", ErrInvalidConfiguration, p.InitialHandSize, p.Capacity)
	// Both factors are bounded by capacity here, so the product cannot overflow.
	case p.InitialHandSize*p.MaxPlayers > p.Capacity:
		return fmt.Errorf("%w: %d players x %d cards exceeds capacity %d", ErrInvalidConfiguration, p.MaxPlayers, p.InitialHandSize, p.Capacity)
	case p.Permissions != manager.PermNone && p.Manager == "":
		return fmt.Errorf("%w: permissions granted without a manager", ErrInvalidConfiguration)
	}
	seen := make(map[string]bool, len(p.ProposedPlayers))
	for _, id := range p.ProposedPlayers {
		if id == "" || seen[id] {
			return fmt.Errorf("%w: proposed player %q empty or repeated", ErrInvalidConfiguration, id)
		}
		seen[id] = true
	}
	return nil
}

// Create allocates a new session and returns its id. Ids start at 1 and are
// never reused.
func (e *Engine) Create(ctx context.Context, creator string, p CreateParams) (uint64, error) {
	if err := p.validate(creator); err != nil {
		return 0, err
	}
	rules, ok := e.rulesets.Get(p.Ruleset)
	if !ok {
		return 0, fmt.Errorf("%w: %w %q", ErrInvalidConfiguration, ErrUnknownRuleset, p.Ruleset)
	}
	market, err := deck.Full(p.CardWidth, p.Capacity)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	discard, _ := deck.Empty(p.CardWidth, p.Capacity)
	emptyHand, _ := deck.Empty(p.CardWidth, p.Capacity)

	now := e.clock.Now()
	s := &session{
		creator:         creator,
		rules:           rules,
		width:           p.CardWidth,
		capacity:        p.Capacity,
		maxPlayers:      p.MaxPlayers,
		initialHandSize: p.InitialHandSize,
		proposed:        slices.Clone(p.ProposedPlayers),
		allowEarlyStart: p.AllowEarlyStart,
		manager:         p.Manager,
		permissions:     p.Permissions,
		commitment:      p.DeckCommitment,
		createdAt:       now,
		st: state{
			status:            StatusCreated,
			playersLeftToJoin: p.MaxPlayers,
			callIndex:         NoCard,
			lastMove:          now,
			market:            market,
			discard:           discard,
			players:           make([]player, p.MaxPlayers),
		},
	}
	for i := range s.st.players {
		s.st.players[i].hand = emptyHand
	}

	seatCreator := slices.Contains(p.ProposedPlayers, creator) || (len(p.ProposedPlayers) == 0 && p.SeatCreator)

	e.mu.Lock()
	e.nextID++
	s.id = e.nextID

	// The session is not yet visible, so the seat can be dealt in place.
	if seatCreator {
		if err := e.seat(s, &s.st, 0, creator); err != nil {
			e.nextID--
			e.mu.Unlock()
			return 0, err
		}
	}
	if e.claimer != nil && s.commitment != "" {
		if err := e.claimer.Claim(s.commitment, s.id); err != nil {
			e.nextID--
			e.mu.Unlock()
			return 0, fmt.Errorf("%w: deck commitment: %w", ErrInvalidConfiguration, err)
		}
	}
	e.sessions[s.id] = s
	s.mu.Lock()
	e.mu.Unlock()
	defer s.mu.Unlock()

	e.logger.Info().
		Uint64("session_id", s.id).
		Str("creator", creator).
		Str("ruleset", rules.Name()).
		Int("max_players", p.MaxPlayers).
		Bool("creator_seated", seatCreator).
		Msg("Session created")

	e.bus.Publish(SessionCreatedEvent{eventBase: e.base(s.id), Creator: creator})
	if seatCreator {
		e.bus.Publish(PlayerJoinedEvent{eventBase: e.base(s.id), Player: 0, Identity: creator})
	}
	return s.id, nil
}

// seat occupies seat i for identity and deals its opening hand.
func (e *Engine) seat(s *session, st *state, i int, identity string) error {
	hand, err := s.rules.DealHand(st.market, s.initialHandSize, e.rng, st.nextSeed(s.id))
	if err != nil {
		return fmt.Errorf("%w: deal: %v", ErrInvalidConfiguration, err)
	}
	p := st.players[i]
	for _, idx := range hand {
		if st.market, err = st.market.Remove(idx); err != nil {
			return err
		}
		if p.hand, err = p.hand.Add(idx); err != nil {
			return err
		}
	}
	p.owner = identity
	p.joinedAt = e.clock.Now()
	st.players[i] = p
	st.playersLeftToJoin--
	return nil
}

// Join seats caller in the next free slot.
func (e *Engine) Join(ctx context.Context, id uint64, caller string) (int, error) {
	s, err := e.lock(id)
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	switch {
	case caller == "":
		return 0, fmt.Errorf("%w: empty identity", ErrNotProposedPlayer)
	case !s.isProposed(caller):
		return 0, ErrNotProposedPlayer
	case s.st.status != StatusCreated:
		return 0, ErrSessionAlreadyStarted
	case s.st.playersLeftToJoin <= 0:
		return 0, ErrSessionFull
	case s.st.seatOf(caller) >= 0:
		return 0, ErrAlreadyJoined
	}

	draft := s.st.clone()
	idx := -1
	for i, p := range draft.players {
		if !p.occupied() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, ErrSessionFull
	}
	if err := e.seat(s, &draft, idx, caller); err != nil {
		return 0, err
	}
	s.st = draft

	e.logger.Info().
		Uint64("session_id", id).
		Str("player", caller).
		Int("seat", idx).
		Int("left_to_join", draft.playersLeftToJoin).
		Msg("Player joined")

	e.bus.Publish(PlayerJoinedEvent{eventBase: e.base(id), Player: idx, Identity: caller})
	return idx, nil
}

// Start moves a session to Started. The creator may start once every seat
// is filled, or early with two seats when the session allows it. A manager
// holding PermStart may start on the creator's behalf.
func (e *Engine) Start(ctx context.Context, id uint64, caller string) error {
	s, err := e.lock(id)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.st.status != StatusCreated {
		return ErrSessionAlreadyStarted
	}

	occupied := s.st.occupiedSeats()
	ready := s.st.playersLeftToJoin == 0 || (occupied >= 2 && s.allowEarlyStart)
	if !ready {
		return fmt.Errorf("%w: %d seats filled, %d left to join", ErrCannotStartSession, occupied, s.st.playersLeftToJoin)
	}

	if caller != s.creator {
		if caller == "" || caller != s.manager {
			return fmt.Errorf("%w: only the creator or its manager may start", ErrCannotStartSession)
		}
		opCtx := manager.OperationContext{Caller: caller}
		if err := e.managers.Check(ctx, s.manager, s.permissions, id, manager.OpStart, opCtx); err != nil {
			return fmt.Errorf("%w: %v", ErrCannotStartSession, err)
		}
	}

	draft := s.st.clone()
	if idx, ok := s.rules.PickOpeningCall(draft.market, e.rng, draft.nextSeed(id)); ok {
		if draft.market, err = draft.market.Remove(idx); err != nil {
			return fmt.Errorf("opening call: %w", err)
		}
		if draft.discard, err = draft.discard.Add(idx); err != nil {
			return fmt.Errorf("opening call: %w", err)
		}
		draft.callIndex = idx
	}

	active := draft.activeSeats()
	draft.currentTurn = active[e.rng.Index(draft.nextSeed(id), len(active))]
	now := e.clock.Now()
	draft.status = StatusStarted
	draft.lastMove = now
	draft.startedAt = now
	s.st = draft

	e.logger.Info().
		Uint64("session_id", id).
		Int("players", len(active)).
		Int("first_turn", draft.currentTurn).
		Bool("opening_call", draft.callIndex != NoCard).
		Msg("Session started")

	e.bus.Publish(SessionStartedEvent{eventBase: e.base(id), FirstTurn: draft.currentTurn})
	return nil
}

// Session returns a snapshot of one session.
func (e *Engine) Session(id uint64) (SessionView, error) {
	s, err := e.lock(id)
	if err != nil {
		return SessionView{}, err
	}
	defer s.mu.Unlock()
	return s.view(), nil
}

// Player returns a snapshot of one seat.
func (e *Engine) Player(id uint64, index int) (PlayerView, error) {
	s, err := e.lock(id)
	if err != nil {
		return PlayerView{}, err
	}
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.st.players) {
		return PlayerView{}, fmt.Errorf("%w: %d", ErrInvalidPlayerIndex, index)
	}
	return s.playerView(index), nil
}

// Players returns snapshots of every seat.
func (e *Engine) Players(id uint64) ([]PlayerView, error) {
	s, err := e.lock(id)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.playerViews(), nil
}

// Sessions returns every session in id order.
func (e *Engine) Sessions() []SessionView {
	e.mu.RLock()
	list := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		list = append(list, s)
	}
	e.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	out := make([]SessionView, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		out = append(out, s.view())
		s.mu.Unlock()
	}
	return out
}

// IdleSessions returns started sessions whose current player has been idle
// past the threshold and holds no unresolved move.
func (e *Engine) IdleSessions() []SessionView {
	var out []SessionView
	for _, v := range e.Sessions() {
		if v.Status != StatusStarted {
			continue
		}
		if e.clock.Since(v.LastMove) <= e.idleTimeout {
			continue
		}
		if v.Pending != nil && !v.Pending.Fulfilled {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (e *Engine) lookup(id uint64) (*session, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, id)
	}
	return s, nil
}

// lock returns the session with its mutex held.
func (e *Engine) lock(id uint64) (*session, error) {
	s, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	return s, nil
}

func (e *Engine) base(id uint64) eventBase {
	return eventBase{Session: id, At: e.clock.Now()}
}
