package engine

import "errors"

// Validation errors.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrNotProposedPlayer    = errors.New("caller is not a proposed player")
	ErrNotCurrentPlayer     = errors.New("caller is not the current player")
	ErrInvalidCardIndex     = errors.New("invalid card index")
	ErrInvalidPlayerIndex   = errors.New("invalid player index")
	ErrInvalidShapeChoice   = errors.New("invalid shape choice")
	ErrUnknownRuleset       = errors.New("unknown ruleset")
	ErrAlreadyJoined        = errors.New("caller already holds a seat")
	ErrNotSeated            = errors.New("caller holds no active seat")
)

// Lifecycle errors.
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionAlreadyStarted = errors.New("session already started")
	ErrSessionNotStarted     = errors.New("session not started")
	ErrSessionFull           = errors.New("session full")
	ErrCannotStartSession    = errors.New("cannot start session")
)

// Protocol errors.
var (
	ErrNoCommittedMove      = errors.New("no committed move")
	ErrMoveNotFulfilled     = errors.New("move not fulfilled")
	ErrMoveAlreadyCommitted = errors.New("move already committed")
	ErrIllegalMove          = errors.New("illegal move")
	ErrActionMismatch       = errors.New("action does not match committed move")
	ErrOracleUnavailable    = errors.New("resolution oracle unavailable")
)

// Authorization errors.
var (
	ErrCannotBootOutPlayer          = errors.New("cannot boot out player")
	ErrPlayerAlreadyCommittedAction = errors.New("player already committed an action")
)

// Category groups engine errors for callers that only care about the kind
// of failure.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryLifecycle     Category = "lifecycle"
	CategoryProtocol      Category = "protocol"
	CategoryAuthorization Category = "authorization"
	CategoryUnknown       Category = "unknown"
)

var categories = []struct {
	cat  Category
	errs []error
}{
	{CategoryValidation, []error{ErrInvalidConfiguration, ErrNotProposedPlayer, ErrNotCurrentPlayer,
		ErrInvalidCardIndex, ErrInvalidPlayerIndex, ErrInvalidShapeChoice, ErrUnknownRuleset,
		ErrAlreadyJoined, ErrNotSeated}},
	{CategoryLifecycle, []error{ErrSessionNotFound, ErrSessionAlreadyStarted, ErrSessionNotStarted,
		ErrSessionFull, ErrCannotStartSession}},
	{CategoryProtocol, []error{ErrNoCommittedMove, ErrMoveNotFulfilled, ErrMoveAlreadyCommitted,
		ErrIllegalMove, ErrActionMismatch, ErrOracleUnavailable}},
	{CategoryAuthorization, []error{ErrCannotBootOutPlayer, ErrPlayerAlreadyCommittedAction}},
}

// CategoryOf classifies err.
func CategoryOf(err error) Category {
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.cat
			}
		}
	}
	return CategoryUnknown
}
