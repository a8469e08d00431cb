package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateStatus_ComputesCompletion(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	roomID := e.matchPair(t, "p1", "p2")

	// The stub pack has four sentences, so position 2 is halfway.
	require.NoError(t, e.svc.Tracker.UpdateStatus(ctx, roomID, "p1", "typing", 2, 5))

	room, err := e.repo.Room(ctx, roomID)
	require.NoError(t, err)
	status := room.Status["p1"]
	require.NotNil(t, status)
	assert.Equal(t, "typing", status.NowText)
	assert.Equal(t, 2, status.Position)
	assert.Equal(t, 5, status.Heart)
	assert.InDelta(t, 50.0, status.CompletionPercentage, 0.001)
	assert.True(t, status.LastHeartbeat.Equal(e.clock.Now()))
}

func TestUpdateStatus_NoPackMeansZeroCompletion(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.svc.Matchmaker.JoinSpecific(ctx, "424242", "p1")
	require.NoError(t, err)

	require.NoError(t, e.svc.Tracker.UpdateStatus(ctx, "424242", "p1", "", 3, 5))

	room, err := e.repo.Room(ctx, "424242")
	require.NoError(t, err)
	assert.Zero(t, room.Status["p1"].CompletionPercentage)
}

func TestOpponentStatus_FreshReadsIdle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	roomID := e.matchPair(t, "p1", "p2")

	require.NoError(t, e.svc.Tracker.UpdateStatus(ctx, roomID, "p2", "halfway there", 2, 4))

	view, err := e.svc.Tracker.OpponentStatus(ctx, roomID, "p1")
	require.NoError(t, err)
	assert.Equal(t, EventIdle, view.Event)
	assert.Equal(t, "halfway there", view.NowText)
	assert.Equal(t, 2, view.Position)
	assert.Equal(t, 4, view.Heart)
	assert.InDelta(t, 50.0, view.CompletionPercentage, 0.001)
}

func TestOpponentStatus_Symmetric(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	roomID := e.matchPair(t, "p1", "p2")

	require.NoError(t, e.svc.Tracker.UpdateStatus(ctx, roomID, "p1", "from p1", 1, 5))
	require.NoError(t, e.svc.Tracker.UpdateStatus(ctx, roomID, "p2", "from p2", 3, 2))

	fromP1, err := e.svc.Tracker.OpponentStatus(ctx, roomID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "from p2", fromP1.NowText)
	assert.Equal(t, 2, fromP1.Heart)

	fromP2, err := e.svc.Tracker.OpponentStatus(ctx, roomID, "p2")
	require.NoError(t, err)
	assert.Equal(t, "from p1", fromP2.NowText)
	assert.Equal(t, 5, fromP2.Heart)
}

func TestOpponentStatus_StaleReadsTimeout(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	roomID := e.matchPair(t, "p1", "p2")

	require.NoError(t, e.svc.Tracker.UpdateStatus(ctx, roomID, "p2", "", 1, 5))

	e.clock.Advance(opponentStaleAfter)
	view, err := e.svc.Tracker.OpponentStatus(ctx, roomID, "p1")
	require.NoError(t, err)
	assert.Equal(t, EventIdle, view.Event)

	// One tick past the staleness window flips the report.
	e.clock.Advance(time.Second)
	view, err = e.svc.Tracker.OpponentStatus(ctx, roomID, "p1")
	require.NoError(t, err)
	assert.Equal(t, EventTimeout, view.Event)
}

func TestOpponentStatus_NeverHeartbeatReadsTimeout(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	roomID := e.matchPair(t, "p1", "p2")

	// p2 has a seeded status record but no heartbeat stamp yet.
	e.clock.Advance(opponentStaleAfter + time.Second)
	view, err := e.svc.Tracker.OpponentStatus(ctx, roomID, "p1")
	require.NoError(t, err)
	assert.Equal(t, EventTimeout, view.Event)
}

func TestOpponentStatus_NoHeartsReadsDamaged(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	roomID := e.matchPair(t, "p1", "p2")

	require.NoError(t, e.svc.Tracker.UpdateStatus(ctx, roomID, "p2", "", 3, 0))

	view, err := e.svc.Tracker.OpponentStatus(ctx, roomID, "p1")
	require.NoError(t, err)
	assert.Equal(t, EventDamaged, view.Event)
}

func TestOpponentStatus_AloneInRoom(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.svc.Matchmaker.JoinRandom(ctx, "p1")
	require.NoError(t, err)

	_, err = e.svc.Tracker.OpponentStatus(ctx, first.RoomID, "p1")
	assert.ErrorIs(t, err, ErrNoOpponent)
}
