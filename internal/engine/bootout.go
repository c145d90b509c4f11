package engine

import (
	"context"
	"fmt"

	"github.com/lox/cardengine/internal/manager"
)

// Forfeit withdraws caller from a started session. A pending move owned by
// caller is discarded.
func (e *Engine) Forfeit(ctx context.Context, id uint64, caller string) error {
	s, err := e.lock(id)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.st.status != StatusStarted {
		return ErrSessionNotStarted
	}
	seat := s.st.seatOf(caller)
	if caller == "" || seat < 0 || !s.st.players[seat].active() {
		return ErrNotSeated
	}

	e.remove(s, seat, false)
	return nil
}

// BootOut forfeits an idle player on the authority of the session's
// manager. The target must not own an unresolved pending move.
func (e *Engine) BootOut(ctx context.Context, id uint64, caller string, target int) error {
	s, err := e.lock(id)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	st := &s.st
	if st.status != StatusStarted {
		return ErrSessionNotStarted
	}
	if target < 0 || target >= len(st.players) || !st.players[target].active() {
		return fmt.Errorf("%w: %w %d", ErrCannotBootOutPlayer, ErrInvalidPlayerIndex, target)
	}
	if pm := st.pending; pm != nil && pm.Player == target && !pm.Fulfilled {
		return ErrPlayerAlreadyCommittedAction
	}

	idle := e.clock.Since(st.lastMove)
	if idle <= e.idleTimeout {
		return fmt.Errorf("%w: idle for %s, threshold %s", ErrCannotBootOutPlayer, idle, e.idleTimeout)
	}

	opCtx := manager.OperationContext{
		Caller:       caller,
		TargetPlayer: target,
		TargetOwner:  st.players[target].owner,
		IdleFor:      idle.String(),
	}
	if err := e.managers.Check(ctx, s.manager, s.permissions, id, manager.OpBootOut, opCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrCannotBootOutPlayer, err)
	}

	e.remove(s, target, true)
	return nil
}

// remove marks seat forfeited, passes the turn on and checks termination.
func (e *Engine) remove(s *session, seat int, booted bool) {
	draft := s.st.clone()
	p := draft.players[seat]
	p.forfeited = true
	draft.players[seat] = p

	if pm := draft.pending; pm != nil && pm.Player == seat {
		e.reqMu.Lock()
		delete(e.requests, pm.RequestID)
		e.reqMu.Unlock()
		draft.pending = nil
	}
	if draft.currentTurn == seat {
		draft.currentTurn = draft.nextActive(seat)
		draft.lastMove = e.clock.Now()
	}
	ended := e.checkEnd(s, &draft, seat, false)
	s.st = draft

	e.logger.Info().
		Uint64("session_id", s.id).
		Int("player", seat).
		Str("owner", p.owner).
		Bool("booted", booted).
		Msg("Player forfeited")

	e.bus.Publish(PlayerForfeitedEvent{eventBase: e.base(s.id), Player: seat, Booted: booted})
	if ended {
		e.publishEnded(s)
	}
}
