package engine

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/manager"
	"github.com/lox/cardengine/internal/oracle"
	"github.com/lox/cardengine/internal/ruleset"
)

// Status is the lifecycle stage of a session. It only moves forward.
type Status uint8

const (
	StatusCreated Status = iota
	StatusStarted
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusStarted:
		return "started"
	case StatusEnded:
		return "ended"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// EndReason records which terminal condition ended a session.
type EndReason string

const (
	EndLastPlayerStanding EndReason = "last_player_standing"
	EndHandEmptied        EndReason = "hand_emptied"
	EndMarketExhausted    EndReason = "market_exhausted"
)

// NoCard marks a move that references no card index.
const NoCard = -1

// PendingMove is the single in-flight move of a session.
type PendingMove struct {
	Player      int              `json:"player"`
	Action      ruleset.Action   `json:"action"`
	CardIndex   int              `json:"card_index"`
	RequestID   oracle.RequestID `json:"request_id"`
	Fulfilled   bool             `json:"fulfilled"`
	CommittedAt time.Time        `json:"committed_at"`
	refs        []revealTarget
	results     []uint64
	failure     error
}

type revealKind uint8

const (
	revealCard revealKind = iota + 1
	revealCall
)

type revealTarget struct {
	kind  revealKind
	index int
}

type player struct {
	owner     string
	hand      deck.Deck
	forfeited bool
	score     int
	joinedAt  time.Time
}

func (p player) occupied() bool { return p.owner != "" }
func (p player) active() bool   { return p.owner != "" && !p.forfeited }

// state is the mutable part of a session. Entry points mutate a clone and
// swap it in only on success.
type state struct {
	status            Status
	playersLeftToJoin int
	currentTurn       int
	callCard          uint64
	callIndex         int
	callKnown         bool
	lastMove          time.Time
	market            deck.Deck
	discard           deck.Deck
	players           []player
	pending           *PendingMove
	nonce             uint64
	winners           []int
	endReason         EndReason
	startedAt         time.Time
	endedAt           time.Time
}

func (st state) clone() state {
	out := st
	out.players = slices.Clone(st.players)
	out.winners = slices.Clone(st.winners)
	if st.pending != nil {
		p := *st.pending
		p.refs = slices.Clone(st.pending.refs)
		p.results = slices.Clone(st.pending.results)
		out.pending = &p
	}
	return out
}

// session is one game. Immutable configuration lives beside the state.
type session struct {
	mu sync.Mutex

	id              uint64
	creator         string
	rules           ruleset.Ruleset
	width           deck.Width
	capacity        int
	maxPlayers      int
	initialHandSize int
	proposed        []string
	allowEarlyStart bool
	manager         string
	permissions     manager.Permission
	commitment      string
	createdAt       time.Time

	st state
}

func (s *session) isProposed(identity string) bool {
	return len(s.proposed) == 0 || slices.Contains(s.proposed, identity)
}

// seatOf returns the seat index held by identity, or -1.
func (st *state) seatOf(identity string) int {
	for i, p := range st.players {
		if p.occupied() && p.owner == identity {
			return i
		}
	}
	return -1
}

func (st *state) occupiedSeats() int {
	n := 0
	for _, p := range st.players {
		if p.occupied() {
			n++
		}
	}
	return n
}

func (st *state) activeSeats() []int {
	var out []int
	for i, p := range st.players {
		if p.active() {
			out = append(out, i)
		}
	}
	return out
}

// nextActive returns the first active seat after from, wrapping around.
// It returns from itself when no other seat is active.
func (st *state) nextActive(from int) int {
	n := len(st.players)
	for step := 1; step <= n; step++ {
		i := (from + step) % n
		if st.players[i].active() {
			return i
		}
	}
	return from
}

// nextSeed derives a fresh RNG call seed for this session.
func (st *state) nextSeed(id uint64) uint64 {
	st.nonce++
	return seedFor(id, st.nonce)
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	ID                uint64             `json:"id"`
	Creator           string             `json:"creator"`
	Ruleset           string             `json:"ruleset"`
	CardWidth         deck.Width         `json:"card_width"`
	Capacity          int                `json:"capacity"`
	MaxPlayers        int                `json:"max_players"`
	InitialHandSize   int                `json:"initial_hand_size"`
	PlayersLeftToJoin int                `json:"players_left_to_join"`
	ProposedPlayers   []string           `json:"proposed_players,omitempty"`
	AllowEarlyStart   bool               `json:"allow_early_start"`
	Status            Status             `json:"status"`
	CurrentTurn       int                `json:"current_turn"`
	CallCard          uint64             `json:"call_card"`
	LastMove          time.Time          `json:"last_move"`
	Market            deck.Deck          `json:"-"`
	Discard           deck.Deck          `json:"-"`
	MarketCount       int                `json:"market_count"`
	DiscardCount      int                `json:"discard_count"`
	Manager           string             `json:"manager,omitempty"`
	Permissions       manager.Permission `json:"permissions"`
	DeckCommitment    string             `json:"deck_commitment,omitempty"`
	Pending           *PendingMove       `json:"pending,omitempty"`
	Winners           []int              `json:"winners,omitempty"`
	EndReason         EndReason          `json:"end_reason,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	StartedAt         time.Time          `json:"started_at,omitzero"`
	EndedAt           time.Time          `json:"ended_at,omitzero"`
}

// PlayerView is a read-only snapshot of one seat.
type PlayerView struct {
	Session   uint64    `json:"session_id"`
	Index     int       `json:"index"`
	Owner     string    `json:"owner"`
	Hand      deck.Deck `json:"-"`
	HandCount int       `json:"hand_count"`
	Forfeited bool      `json:"forfeited"`
	Score     int       `json:"score"`
	JoinedAt  time.Time `json:"joined_at,omitzero"`
}

func (s *session) view() SessionView {
	st := s.st
	v := SessionView{
		ID:                s.id,
		Creator:           s.creator,
		Ruleset:           s.rules.Name(),
		CardWidth:         s.width,
		Capacity:          s.capacity,
		MaxPlayers:        s.maxPlayers,
		InitialHandSize:   s.initialHandSize,
		PlayersLeftToJoin: st.playersLeftToJoin,
		ProposedPlayers:   slices.Clone(s.proposed),
		AllowEarlyStart:   s.allowEarlyStart,
		Status:            st.status,
		CurrentTurn:       st.currentTurn,
		CallCard:          st.callCard,
		LastMove:          st.lastMove,
		Market:            st.market,
		Discard:           st.discard,
		MarketCount:       st.market.Count(),
		DiscardCount:      st.discard.Count(),
		Manager:           s.manager,
		Permissions:       s.permissions,
		DeckCommitment:    s.commitment,
		Winners:           slices.Clone(st.winners),
		EndReason:         st.endReason,
		CreatedAt:         s.createdAt,
		StartedAt:         st.startedAt,
		EndedAt:           st.endedAt,
	}
	if st.pending != nil {
		p := *st.pending
		p.refs, p.results = nil, nil
		v.Pending = &p
	}
	return v
}

func (s *session) playerView(i int) PlayerView {
	p := s.st.players[i]
	return PlayerView{
		Session:   s.id,
		Index:     i,
		Owner:     p.owner,
		Hand:      p.hand,
		HandCount: p.hand.Count(),
		Forfeited: p.forfeited,
		Score:     p.score,
		JoinedAt:  p.joinedAt,
	}
}

func (s *session) playerViews() []PlayerView {
	out := make([]PlayerView, len(s.st.players))
	for i := range s.st.players {
		out[i] = s.playerView(i)
	}
	return out
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "created":
		*s = StatusCreated
	case "started":
		*s = StatusStarted
	case "ended":
		*s = StatusEnded
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}
