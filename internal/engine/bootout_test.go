package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cardengine/internal/manager"
	"github.com/lox/cardengine/internal/ruleset"
)

func TestForfeitSequenceEndsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.startedSession(whotParams(3, 2, trio...), trio...)

	require.NoError(t, h.engine.Forfeit(h.ctx, id, "alice"))
	v := h.view(id)
	assert.Equal(t, StatusStarted, v.Status)
	assert.True(t, h.player(id, 0).Forfeited)
	assert.NotEqual(t, 0, v.CurrentTurn, "forfeited seat never holds the turn")
	assert.Equal(t, EventPlayerForfeited, h.events.Types()[len(h.events.Types())-1])

	require.NoError(t, h.engine.Forfeit(h.ctx, id, "bob"))
	v = h.view(id)
	assert.Equal(t, StatusEnded, v.Status)
	assert.Equal(t, EndLastPlayerStanding, v.EndReason)
	assert.Equal(t, []int{2}, v.Winners)

	types := h.events.Types()
	assert.Equal(t, []EventType{EventPlayerForfeited, EventSessionEnded}, types[len(types)-2:])
	forfeited := h.events.Events()[len(types)-2].(PlayerForfeitedEvent)
	assert.Equal(t, 1, forfeited.Player)
	assert.False(t, forfeited.Booted)

	assert.ErrorIs(t, h.engine.Forfeit(h.ctx, id, "carol"), ErrSessionNotStarted)
}

func TestForfeitErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	id, err := h.engine.Create(h.ctx, "host", whotParams(2, 2, "alice", "bob"))
	require.NoError(t, err)
	assert.ErrorIs(t, h.engine.Forfeit(h.ctx, id, "alice"), ErrSessionNotStarted)

	for _, who := range []string{"alice", "bob"} {
		_, err := h.engine.Join(h.ctx, id, who)
		require.NoError(t, err)
	}
	require.NoError(t, h.engine.Start(h.ctx, id, "host"))

	assert.ErrorIs(t, h.engine.Forfeit(h.ctx, id, "host"), ErrNotSeated)
	assert.ErrorIs(t, h.engine.Forfeit(h.ctx, id, ""), ErrNotSeated)
}

func TestForfeitDiscardsOwnPendingMove(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.startedSession(whotParams(3, 2, trio...), trio...)

	seat, owner := h.current(id)
	reqID, err := h.engine.CommitMove(h.ctx, id, owner, ruleset.Draw, NoCard)
	require.NoError(t, err)

	require.NoError(t, h.engine.Forfeit(h.ctx, id, owner))
	v := h.view(id)
	assert.Nil(t, v.Pending)
	assert.Equal(t, (seat+1)%3, v.CurrentTurn)

	assert.ErrorIs(t, h.engine.Fulfill(reqID, nil), ErrUnknownRequest, "late fulfillment is dropped")
}

// bootable returns a started session managed by "referee" with the given
// permissions, already past the idle threshold.
func bootable(t *testing.T, h *harness, perms manager.Permission) uint64 {
	t.Helper()
	p := whotParams(3, 2, trio...)
	p.Manager = "referee"
	p.Permissions = perms
	id := h.startedSession(p, trio...)
	h.advance(6 * time.Minute)
	return id
}

func TestBootOutIdlePlayer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.managers.Register("referee", manager.Static(true))

	id := bootable(t, h, manager.PermBootOut)
	seat, _ := h.current(id)

	require.NoError(t, h.engine.BootOut(h.ctx, id, "anyone", seat))
	assert.True(t, h.player(id, seat).Forfeited)
	assert.Equal(t, (seat+1)%3, h.view(id).CurrentTurn)

	events := h.events.Events()
	booted := events[len(events)-1].(PlayerForfeitedEvent)
	assert.True(t, booted.Booted)
	assert.Equal(t, seat, booted.Player)
}

func TestBootOutRequiresIdleness(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.managers.Register("referee", manager.Static(true))

	p := whotParams(3, 2, trio...)
	p.Manager = "referee"
	p.Permissions = manager.PermBootOut
	id := h.startedSession(p, trio...)
	seat, _ := h.current(id)

	h.advance(4 * time.Minute)
	assert.ErrorIs(t, h.engine.BootOut(h.ctx, id, "referee", seat), ErrCannotBootOutPlayer)

	h.advance(2 * time.Minute)
	assert.NoError(t, h.engine.BootOut(h.ctx, id, "referee", seat))
}

func TestBootOutAuthorization(t *testing.T) {
	t.Parallel()

	t.Run("no manager", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		id := h.startedSession(whotParams(3, 2, trio...), trio...)
		h.advance(6 * time.Minute)
		seat, _ := h.current(id)
		assert.ErrorIs(t, h.engine.BootOut(h.ctx, id, "x", seat), ErrCannotBootOutPlayer)
	})

	t.Run("permission bit missing", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.managers.Register("referee", manager.Static(true))
		id := bootable(t, h, manager.PermStart)
		seat, _ := h.current(id)
		assert.ErrorIs(t, h.engine.BootOut(h.ctx, id, "referee", seat), ErrCannotBootOutPlayer)
	})

	t.Run("manager declines", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.managers.Register("referee", manager.Static(false))
		id := bootable(t, h, manager.PermBootOut)
		seat, _ := h.current(id)
		assert.ErrorIs(t, h.engine.BootOut(h.ctx, id, "referee", seat), ErrCannotBootOutPlayer)
		assert.False(t, h.player(id, seat).Forfeited)
	})

	t.Run("manager errors", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		var got manager.OperationContext
		h.managers.Register("referee", manager.AuthorizerFunc(func(_ context.Context, _ uint64, op manager.Operation, opCtx manager.OperationContext) (bool, error) {
			got = opCtx
			return true, errors.New("timeout")
		}))
		id := bootable(t, h, manager.PermBootOut)
		seat, owner := h.current(id)
		assert.ErrorIs(t, h.engine.BootOut(h.ctx, id, "ops", seat), ErrCannotBootOutPlayer)
		assert.Equal(t, "ops", got.Caller)
		assert.Equal(t, seat, got.TargetPlayer)
		assert.Equal(t, owner, got.TargetOwner)
	})

	t.Run("invalid target", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.managers.Register("referee", manager.Static(true))
		id := bootable(t, h, manager.PermBootOut)
		err := h.engine.BootOut(h.ctx, id, "referee", 7)
		assert.ErrorIs(t, err, ErrCannotBootOutPlayer)
		assert.ErrorIs(t, err, ErrInvalidPlayerIndex)
	})

	t.Run("not started", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		id, err := h.engine.Create(h.ctx, "host", whotParams(2, 2))
		require.NoError(t, err)
		assert.ErrorIs(t, h.engine.BootOut(h.ctx, id, "host", 0), ErrSessionNotStarted)
	})
}

func TestBootOutRefusesUnresolvedPendingMove(t *testing.T) {
	t.Parallel()

	for _, answer := range []bool{true, false} {
		h := newHarness(t)
		h.managers.Register("referee", manager.Static(answer))
		p := whotParams(3, 2, trio...)
		p.Manager = "referee"
		p.Permissions = manager.PermBootOut
		id := h.startedSession(p, trio...)

		seat, owner := h.current(id)
		_, err := h.engine.CommitMove(h.ctx, id, owner, ruleset.Draw, NoCard)
		require.NoError(t, err)
		h.advance(time.Hour)

		assert.ErrorIs(t, h.engine.BootOut(h.ctx, id, "referee", seat), ErrPlayerAlreadyCommittedAction, "manager answer %v", answer)
		assert.NotNil(t, h.view(id).Pending)
	}

	h := newHarness(t)
	id := h.startedSession(whotParams(3, 2, trio...), trio...)
	seat, owner := h.current(id)
	_, err := h.engine.CommitMove(h.ctx, id, owner, ruleset.Draw, NoCard)
	require.NoError(t, err)
	assert.ErrorIs(t, h.engine.BootOut(h.ctx, id, "nobody", seat), ErrPlayerAlreadyCommittedAction, "no manager attached")
}

func TestBootOutAfterFulfilledButUnexecutedMove(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.managers.Register("referee", manager.Static(true))

	p := whotParams(3, 2, trio...)
	p.Manager = "referee"
	p.Permissions = manager.PermBootOut
	id := h.startedSession(p, trio...)

	seat, owner := h.current(id)
	_, err := h.engine.CommitMove(h.ctx, id, owner, ruleset.Draw, NoCard)
	require.NoError(t, err)
	h.fulfillLast()
	h.advance(10 * time.Minute)

	require.NoError(t, h.engine.BootOut(h.ctx, id, "referee", seat))
	assert.Nil(t, h.view(id).Pending)
	assert.ErrorIs(t, h.engine.ExecuteMove(h.ctx, id, owner, ruleset.Draw, nil), ErrNoCommittedMove)
}

func TestBootingDownToOnePlayerEndsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.managers.Register("referee", manager.Static(true))

	p := whotParams(2, 2, "alice", "bob")
	p.Manager = "referee"
	p.Permissions = manager.PermBootOut
	id := h.startedSession(p, "alice", "bob")
	h.advance(6 * time.Minute)

	seat, _ := h.current(id)
	require.NoError(t, h.engine.BootOut(h.ctx, id, "referee", seat))
	v := h.view(id)
	assert.Equal(t, StatusEnded, v.Status)
	assert.Equal(t, []int{1 - seat}, v.Winners)
}
