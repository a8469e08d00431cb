package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRandom_PairsTwoPlayers(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.svc.Matchmaker.JoinRandom(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, first.Status)
	assert.Equal(t, []string{"p1"}, first.Players)

	second, err := e.svc.Matchmaker.JoinRandom(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, second.Status)
	assert.Equal(t, first.RoomID, second.RoomID)
	assert.Equal(t, []string{"p1", "p2"}, second.Players)

	// A matched room is no longer open for random matching.
	codes, err := e.repo.WaitingIndex(ctx)
	require.NoError(t, err)
	assert.NotContains(t, codes, first.RoomID)
}

func TestJoinRandom_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.svc.Matchmaker.JoinRandom(ctx, "p1")
	require.NoError(t, err)

	// Re-polling while waiting returns the same room.
	again, err := e.svc.Matchmaker.JoinRandom(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, first.RoomID, again.RoomID)
	assert.Equal(t, []string{"p1"}, again.Players)

	codes, err := e.repo.WaitingIndex(ctx)
	require.NoError(t, err)
	assert.Len(t, codes, 1)
}

func TestJoinRandom_IdempotentAfterMatch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.svc.Matchmaker.JoinRandom(ctx, "p1")
	require.NoError(t, err)
	_, err = e.svc.Matchmaker.JoinRandom(ctx, "p2")
	require.NoError(t, err)

	// The matched room has left the waiting index, but a re-poll by either
	// player still lands in it via the player_room mapping.
	for _, playerID := range []string{"p1", "p2"} {
		again, err := e.svc.Matchmaker.JoinRandom(ctx, playerID)
		require.NoError(t, err)
		assert.Equal(t, first.RoomID, again.RoomID)
		assert.Equal(t, StatusMatched, again.Status)
		assert.Equal(t, []string{"p1", "p2"}, again.Players)
	}

	room, err := e.repo.Room(ctx, first.RoomID)
	require.NoError(t, err)
	assert.Len(t, room.Players, 2)
}

func TestJoinRandom_CapacityTwoOnRandomPath(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.svc.Matchmaker.JoinRandom(ctx, "p1")
	require.NoError(t, err)
	_, err = e.svc.Matchmaker.JoinRandom(ctx, "p2")
	require.NoError(t, err)

	// A third player cannot land in the full room through random matching.
	third, err := e.svc.Matchmaker.JoinRandom(ctx, "p3")
	require.NoError(t, err)
	assert.NotEqual(t, first.RoomID, third.RoomID)
	assert.Equal(t, StatusWaiting, third.Status)

	room, err := e.repo.Room(ctx, first.RoomID)
	require.NoError(t, err)
	assert.Len(t, room.Players, 2)
}

func TestJoinRandom_SkipsExpiredIndexedRooms(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.svc.Matchmaker.JoinRandom(ctx, "p1")
	require.NoError(t, err)

	// Solo waiting rooms expire after 600s; the index entry lingers.
	e.clock.Advance(SoloRoomTTL + 1)

	second, err := e.svc.Matchmaker.JoinRandom(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, second.Status)
	assert.NotEqual(t, first.RoomID, second.RoomID)
}

func TestGenerateRoomCode_RetriesOnCollision(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	taken := NewRoom("111111", KindWaiting, "p1")
	require.NoError(t, e.repo.SaveRoom(ctx, taken, ActiveRoomTTL))

	codes := []string{"111111", "222222"}
	e.svc.Matchmaker.randCode = func() string {
		code := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return code
	}

	code, err := e.svc.Matchmaker.GenerateRoomCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "222222", code)
}

func TestJoinSpecific_CreatesCustomRoom(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	result, err := e.svc.Matchmaker.JoinSpecific(ctx, "424242", "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, result.Status)
	assert.Equal(t, []string{"p1"}, result.Players)

	room, err := e.repo.Room(ctx, "424242")
	require.NoError(t, err)
	assert.Equal(t, KindCustom, room.Kind)
	require.NotNil(t, room.Status["p1"])
	assert.Equal(t, DefaultHearts, room.Status["p1"].Heart)
}

func TestJoinSpecific_SecondPlayerMatches(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.svc.Matchmaker.JoinSpecific(ctx, "424242", "p1")
	require.NoError(t, err)

	result, err := e.svc.Matchmaker.JoinSpecific(ctx, "424242", "p2")
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, result.Status)
	assert.Equal(t, []string{"p1", "p2"}, result.Players)
}

func TestJoinSpecific_ThirdPlayerIsNotRejected(t *testing.T) {
	// Explicit joins enforce no capacity; only the status string reports
	// the room as full. Pinned here until the behavior is decided.
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.svc.Matchmaker.JoinSpecific(ctx, "424242", "p1")
	require.NoError(t, err)
	_, err = e.svc.Matchmaker.JoinSpecific(ctx, "424242", "p2")
	require.NoError(t, err)

	result, err := e.svc.Matchmaker.JoinSpecific(ctx, "424242", "p3")
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, result.Status)
	assert.Len(t, result.Players, 3)
}

func TestLeave_TwoPlayerRoomStaysAlive(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	roomID := e.matchPair(t, "p1", "p2")

	require.NoError(t, e.svc.Matchmaker.Leave(ctx, roomID, "p2"))

	room, err := e.repo.Room(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, room.Players)

	// The half-empty room is not re-opened for random matching.
	codes, err := e.repo.WaitingIndex(ctx)
	require.NoError(t, err)
	assert.NotContains(t, codes, roomID)
}

func TestLeave_LastPlayerDeletesRoom(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.svc.Matchmaker.JoinRandom(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, e.svc.Matchmaker.Leave(ctx, first.RoomID, "p1"))

	_, err = e.repo.Room(ctx, first.RoomID)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	codes, err := e.repo.WaitingIndex(ctx)
	require.NoError(t, err)
	assert.NotContains(t, codes, first.RoomID)
}

func TestLeave_UnknownRoomOrPlayer(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.svc.Matchmaker.Leave(ctx, "999999", "p1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	first, err := e.svc.Matchmaker.JoinRandom(ctx, "p1")
	require.NoError(t, err)

	err = e.svc.Matchmaker.Leave(ctx, first.RoomID, "stranger")
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestEndGame_DeletesRoom(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	roomID := e.matchPair(t, "p1", "p2")

	require.NoError(t, e.svc.Matchmaker.EndGame(ctx, roomID))

	_, err := e.repo.Room(ctx, roomID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}
