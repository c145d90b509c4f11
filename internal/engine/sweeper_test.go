package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/cardengine/internal/manager"
	"github.com/lox/cardengine/internal/ruleset"
)

func TestSweeperBootsIdleCurrentPlayers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.managers.Register("sweeper", manager.Static(true))

	managed := whotParams(3, 2, trio...)
	managed.Manager = "sweeper"
	managed.Permissions = manager.PermBootOut
	idle := h.startedSession(managed, trio...)
	pending := h.startedSession(managed, trio...)
	unmanaged := h.startedSession(whotParams(3, 2, trio...), trio...)

	_, owner := h.current(pending)
	_, err := h.engine.CommitMove(h.ctx, pending, owner, ruleset.Draw, NoCard)
	require.NoError(t, err)

	sw := NewSweeper(h.engine, "sweeper", time.Minute, testLogger())
	assert.Equal(t, 0, sw.Sweep(h.ctx), "nobody is idle yet")

	h.advance(6 * time.Minute)
	assert.Len(t, h.engine.IdleSessions(), 2, "unresolved pending move is not idle")

	idleSeat, _ := h.current(idle)
	assert.Equal(t, 1, sw.Sweep(h.ctx))
	assert.True(t, h.player(idle, idleSeat).Forfeited)

	for _, p := range []uint64{pending, unmanaged} {
		players, err := h.engine.Players(p)
		require.NoError(t, err)
		for _, pl := range players {
			assert.False(t, pl.Forfeited)
		}
	}
}
