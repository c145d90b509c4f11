package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/lox/cardengine/internal/oracle"
	"github.com/lox/cardengine/internal/ruleset"
)

// ErrUnknownRequest is returned by Fulfill for ids that no pending move is
// waiting on.
var ErrUnknownRequest = errors.New("unknown or stale resolution request")

// CommitMove records the current player's intent and asks the oracle to
// reveal what execution needs. It returns as soon as the request is queued.
func (e *Engine) CommitMove(ctx context.Context, id uint64, caller string, action ruleset.Action, cardIndex int) (oracle.RequestID, error) {
	s, err := e.lock(id)
	if err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	st := &s.st
	switch {
	case st.status != StatusStarted:
		return "", ErrSessionNotStarted
	case caller == "" || st.players[st.currentTurn].owner != caller:
		return "", ErrNotCurrentPlayer
	case st.pending != nil:
		return "", ErrMoveAlreadyCommitted
	case !action.Valid():
		return "", fmt.Errorf("%w: unknown action %d", ErrIllegalMove, action)
	}

	if action.NeedsCard() {
		if cardIndex < 0 || cardIndex >= s.capacity {
			return "", fmt.Errorf("%w: %d", ErrInvalidCardIndex, cardIndex)
		}
	} else {
		cardIndex = NoCard
	}

	var (
		refs    []oracle.Ref
		targets []revealTarget
	)
	if cardIndex != NoCard {
		refs = append(refs, oracle.Ref{Session: id, Commitment: s.commitment, Index: cardIndex})
		targets = append(targets, revealTarget{kind: revealCard, index: cardIndex})
	}
	if !st.callKnown && st.callIndex != NoCard {
		refs = append(refs, oracle.Ref{Session: id, Commitment: s.commitment, Index: st.callIndex})
		targets = append(targets, revealTarget{kind: revealCall, index: st.callIndex})
	}

	if e.oracle == nil {
		return "", fmt.Errorf("%w: no oracle configured", ErrOracleUnavailable)
	}

	// The correlation entry is registered before the request lock is
	// released so a fast fulfillment always finds it.
	e.reqMu.Lock()
	reqID, err := e.oracle.RequestReveal(ctx, refs)
	if err != nil {
		e.reqMu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	e.requests[reqID] = id
	e.reqMu.Unlock()

	now := e.clock.Now()
	st.pending = &PendingMove{
		Player:      st.currentTurn,
		Action:      action,
		CardIndex:   cardIndex,
		RequestID:   reqID,
		CommittedAt: now,
		refs:        targets,
	}
	st.lastMove = now

	e.logger.Debug().
		Uint64("session_id", id).
		Int("player", st.currentTurn).
		Str("action", action.String()).
		Int("card_index", cardIndex).
		Str("request_id", string(reqID)).
		Msg("Move committed")
	return reqID, nil
}

// Fulfill delivers the oracle's plaintext results for a request. Results
// are in the order of the refs the request carried.
func (e *Engine) Fulfill(reqID oracle.RequestID, results []uint64) error {
	return e.deliver(reqID, results, nil)
}

// FailResolution marks a request as unresolvable. The pending move is then
// rejected as illegal when executed.
func (e *Engine) FailResolution(reqID oracle.RequestID, cause error) error {
	if cause == nil {
		cause = errors.New("resolution failed")
	}
	return e.deliver(reqID, nil, cause)
}

func (e *Engine) deliver(reqID oracle.RequestID, results []uint64, cause error) error {
	e.reqMu.Lock()
	id, ok := e.requests[reqID]
	delete(e.requests, reqID)
	e.reqMu.Unlock()
	if !ok {
		e.logger.Warn().Str("request_id", string(reqID)).Msg("Dropping fulfillment for unknown request")
		return fmt.Errorf("%w: %s", ErrUnknownRequest, reqID)
	}

	s, err := e.lock(id)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	pm := s.st.pending
	if pm == nil || pm.RequestID != reqID || pm.Fulfilled {
		e.logger.Warn().
			Uint64("session_id", id).
			Str("request_id", string(reqID)).
			Msg("Dropping stale fulfillment")
		return fmt.Errorf("%w: %s", ErrUnknownRequest, reqID)
	}

	draft := s.st.clone()
	pm = draft.pending
	pm.Fulfilled = true
	switch {
	case cause != nil:
		pm.failure = cause
	case len(results) != len(pm.refs):
		pm.failure = fmt.Errorf("expected %d results, got %d", len(pm.refs), len(results))
	default:
		pm.results = append([]uint64(nil), results...)
		for i, t := range pm.refs {
			if t.kind == revealCall && t.index == draft.callIndex {
				draft.callCard = results[i]
				draft.callKnown = true
			}
		}
	}
	s.st = draft

	ev := e.logger.Debug()
	if pm.failure != nil {
		ev = e.logger.Warn().Err(pm.failure)
	}
	ev.Uint64("session_id", id).
		Str("request_id", string(reqID)).
		Int("player", pm.Player).
		Msg("Move fulfilled")
	return nil
}

// ConsumeFulfillments feeds oracle deliveries into the engine until ctx is
// cancelled or the channel closes.
func (e *Engine) ConsumeFulfillments(ctx context.Context, fulfillments <-chan oracle.Fulfillment) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-fulfillments:
			if !ok {
				return nil
			}
			if f.Err != nil {
				_ = e.FailResolution(f.RequestID, f.Err)
				continue
			}
			_ = e.Fulfill(f.RequestID, f.Results)
		}
	}
}

// ExecuteMove applies the fulfilled pending move. An illegal move is
// discarded and the turn passes on; an invalid shape choice leaves the
// pending move in place so it can be executed again.
func (e *Engine) ExecuteMove(ctx context.Context, id uint64, caller string, action ruleset.Action, extra []byte) error {
	s, err := e.lock(id)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	pm := s.st.pending
	switch {
	case pm == nil:
		return ErrNoCommittedMove
	case !pm.Fulfilled:
		return ErrMoveNotFulfilled
	case caller == "" || s.st.players[pm.Player].owner != caller:
		return ErrNotCurrentPlayer
	case action != pm.Action:
		return fmt.Errorf("%w: committed %s, executing %s", ErrActionMismatch, pm.Action, action)
	}

	draft := s.st.clone()
	outcome, err := e.resolve(s, &draft, *pm, extra)
	switch {
	case errors.Is(err, ErrInvalidShapeChoice):
		return err
	case errors.Is(err, ErrIllegalMove):
		rejected := s.st.clone()
		rejected.pending = nil
		rejected.currentTurn = rejected.nextActive(pm.Player)
		rejected.lastMove = e.clock.Now()
		s.st = rejected

		e.logger.Info().
			Uint64("session_id", id).
			Int("player", pm.Player).
			Str("action", pm.Action.String()).
			Err(err).
			Msg("Illegal move discarded")
		return err
	case err != nil:
		return err
	}
	s.st = draft

	e.logger.Info().
		Uint64("session_id", id).
		Int("player", pm.Player).
		Str("action", pm.Action.String()).
		Int("next_turn", draft.currentTurn).
		Uint64("call_card", draft.callCard).
		Msg("Move executed")

	e.bus.Publish(MoveExecutedEvent{eventBase: e.base(id), Player: pm.Player, Action: pm.Action})
	if outcome.ended {
		e.publishEnded(s)
	}
	return nil
}
