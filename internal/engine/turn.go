package engine

import (
	"errors"
	"fmt"

	"github.com/lox/cardengine/internal/ruleset"
)

type outcome struct {
	ended bool
}

// resolve applies a fulfilled move to st. It returns an error wrapping
// ErrIllegalMove when the revealed values make the move illegal.
func (e *Engine) resolve(s *session, st *state, pm PendingMove, extra []byte) (outcome, error) {
	if pm.failure != nil {
		return outcome{}, fmt.Errorf("%w: %v", ErrIllegalMove, pm.failure)
	}

	var (
		card    uint64
		hasCard = pm.CardIndex != NoCard
	)
	if hasCard {
		v, ok := pm.revealed(revealCard)
		if !ok {
			return outcome{}, fmt.Errorf("%w: card value not revealed", ErrIllegalMove)
		}
		card = v
		if !st.players[pm.Player].hand.Contains(pm.CardIndex) {
			return outcome{}, fmt.Errorf("%w: card %d not in hand", ErrIllegalMove, pm.CardIndex)
		}
	}

	var (
		eff    ruleset.Effect
		played bool
	)
	switch pm.Action {
	case ruleset.Play:
		if !s.rules.Matches(st.callCard, card) {
			return outcome{}, fmt.Errorf("%w: card %d does not match call %d", ErrIllegalMove, card, st.callCard)
		}
		eff = s.rules.EffectOf(card)
		played = true

	case ruleset.Draw:
		e.draw(s, st, pm.Player, 1)

	case ruleset.Defend, ruleset.Pick, ruleset.Neutral:
		ext, err := s.rules.ResolveExtended(pm.Action, ruleset.ExtendedContext{Call: st.callCard, Card: card, HasCard: hasCard}, extra)
		if errors.Is(err, ruleset.ErrIllegal) {
			return outcome{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
		}
		if err != nil {
			return outcome{}, fmt.Errorf("%w: ruleset: %v", ErrIllegalMove, err)
		}
		eff = ext
		if ext.PlaysCard {
			if !hasCard {
				return outcome{}, fmt.Errorf("%w: %s plays a card but none was committed", ErrIllegalMove, pm.Action)
			}
			eff = combine(ext, s.rules.EffectOf(card))
			played = true
		}

	default:
		return outcome{}, fmt.Errorf("%w: unknown action %s", ErrIllegalMove, pm.Action)
	}

	if played {
		call := card
		if eff.ShapeChoice {
			if len(extra) < 1 || !s.rules.ValidShape(extra[0]) {
				return outcome{}, fmt.Errorf("%w: %v", ErrInvalidShapeChoice, extra)
			}
			call = s.rules.WithShape(card, extra[0])
		}
		if err := playCard(st, pm.Player, pm.CardIndex); err != nil {
			return outcome{}, err
		}
		st.callCard = call
		st.callIndex = pm.CardIndex
		st.callKnown = true
	}

	e.applyEffect(s, st, pm.Player, eff)
	st.pending = nil
	st.lastMove = e.clock.Now()

	return outcome{ended: e.checkEnd(s, st, pm.Player, played)}, nil
}

func (pm PendingMove) revealed(kind revealKind) (uint64, bool) {
	for i, t := range pm.refs {
		if t.kind == kind && i < len(pm.results) {
			return pm.results[i], true
		}
	}
	return 0, false
}

func combine(a, b ruleset.Effect) ruleset.Effect {
	return ruleset.Effect{
		Skip:        a.Skip + b.Skip,
		ForceDraw:   a.ForceDraw + b.ForceDraw,
		MarketDraw:  a.MarketDraw + b.MarketDraw,
		SelfDraw:    a.SelfDraw + b.SelfDraw,
		HoldOn:      a.HoldOn || b.HoldOn,
		ShapeChoice: a.ShapeChoice || b.ShapeChoice,
		PlaysCard:   a.PlaysCard || b.PlaysCard,
	}
}

func playCard(st *state, seat, index int) error {
	var err error
	p := st.players[seat]
	if p.hand, err = p.hand.Remove(index); err != nil {
		return err
	}
	if st.discard, err = st.discard.Add(index); err != nil {
		return err
	}
	st.players[seat] = p
	return nil
}

// applyEffect performs draws and moves the turn pointer.
func (e *Engine) applyEffect(s *session, st *state, actor int, eff ruleset.Effect) {
	if eff.SelfDraw > 0 {
		e.draw(s, st, actor, eff.SelfDraw)
	}
	if eff.MarketDraw > 0 {
		for seat := st.nextActive(actor); seat != actor; seat = st.nextActive(seat) {
			e.draw(s, st, seat, eff.MarketDraw)
		}
	}

	next := st.nextActive(actor)
	if eff.ForceDraw > 0 && next != actor {
		e.draw(s, st, next, eff.ForceDraw)
	}

	if eff.HoldOn {
		st.currentTurn = actor
		return
	}
	turn := next
	for i := 0; i < eff.Skip; i++ {
		turn = st.nextActive(turn)
	}
	st.currentTurn = turn
}

// draw moves up to n RNG-chosen market indices into seat's hand.
func (e *Engine) draw(s *session, st *state, seat, n int) int {
	p := st.players[seat]
	drawn := 0
	for ; drawn < n && !st.market.IsEmpty(); drawn++ {
		k := e.rng.Index(st.nextSeed(s.id), st.market.Count())
		idx, ok := st.market.Nth(k)
		if !ok {
			break
		}
		st.market, _ = st.market.Remove(idx)
		p.hand, _ = p.hand.Add(idx)
	}
	st.players[seat] = p
	return drawn
}

// checkEnd ends the session if a terminal condition holds.
func (e *Engine) checkEnd(s *session, st *state, actor int, played bool) bool {
	if st.status != StatusStarted {
		return false
	}
	if played && st.players[actor].hand.IsEmpty() {
		e.end(st, EndHandEmptied, []int{actor})
		return true
	}
	if active := st.activeSeats(); len(active) <= 1 {
		e.end(st, EndLastPlayerStanding, active)
		return true
	}
	if st.market.IsEmpty() {
		hands := make([]ruleset.HandSummary, 0, len(st.players))
		for i, p := range st.players {
			if p.occupied() {
				hands = append(hands, ruleset.HandSummary{Seat: i, Cards: p.hand.Count(), Active: p.active()})
			}
		}
		e.end(st, EndMarketExhausted, s.rules.Settle(hands))
		return true
	}
	return false
}

func (e *Engine) end(st *state, reason EndReason, winners []int) {
	st.status = StatusEnded
	st.pending = nil
	st.endReason = reason
	st.winners = append([]int(nil), winners...)
	st.endedAt = e.clock.Now()
	for i, p := range st.players {
		if p.occupied() {
			p.score = p.hand.Count()
			st.players[i] = p
		}
	}
}

// publishEnded emits SessionEnded for s, which must be locked and ended.
func (e *Engine) publishEnded(s *session) {
	e.logger.Info().
		Uint64("session_id", s.id).
		Str("reason", string(s.st.endReason)).
		Ints("winners", s.st.winners).
		Msg("Session ended")

	e.bus.Publish(SessionEndedEvent{
		eventBase: e.base(s.id),
		Reason:    s.st.endReason,
		Winners:   append([]int(nil), s.st.winners...),
		View:      s.view(),
		Players:   s.playerViews(),
	})
}
