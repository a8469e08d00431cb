package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"time"
)

// Match status strings reported to clients.
const (
	StatusWaiting = "waiting"
	StatusMatched = "matched"
)

// MatchResult is what join operations report back to the caller.
type MatchResult struct {
	RoomID  string   `json:"room_id"`
	Status  string   `json:"status"`
	Players []string `json:"players"`
}

func newMatchResult(room *Room) *MatchResult {
	players := make([]string, len(room.Players))
	copy(players, room.Players)

	status := StatusWaiting
	if len(players) >= 2 {
		status = StatusMatched
	}
	return &MatchResult{
		RoomID:  room.Code,
		Status:  status,
		Players: players,
	}
}

// Matchmaker pairs players into rooms: first-available random matching over
// the waiting index plus explicit room-code joining.
//
// Lock order is always waiting index before any room lock.
type Matchmaker struct {
	repo     *RoomRepository
	randCode func() string
}

// NewMatchmaker creates a matchmaker over the repository.
func NewMatchmaker(repo *RoomRepository) *Matchmaker {
	return &Matchmaker{
		repo:     repo,
		randCode: randomRoomCode,
	}
}

func randomRoomCode() string {
	return strconv.Itoa(100000 + rand.Intn(900000))
}

// GenerateRoomCode draws 6-digit codes until one does not collide with a
// live room. Collision avoidance only, nothing cryptographic.
func (m *Matchmaker) GenerateRoomCode(ctx context.Context) (string, error) {
	for attempts := 0; attempts < 100; attempts++ {
		code := m.randCode()
		_, err := m.repo.Room(ctx, code)
		if errors.Is(err, ErrRoomNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("generate room code: no free code after 100 attempts")
}

// JoinRandom implements first-available pairing. The cases short-circuit in
// priority order:
//
//  1. the player already occupies a live room (waiting or matched):
//     re-polling is idempotent and returns that room unchanged
//  2. the player hosts a solo waiting room: still waiting
//  3. an indexed room holds exactly one other player: match into it
//  4. otherwise open a fresh waiting room
//
// Case 1 is answered from the player_room reverse mapping, which also
// covers matched rooms that already left the waiting index, with a scan of
// the index as fallback.
func (m *Matchmaker) JoinRandom(ctx context.Context, playerID string) (*MatchResult, error) {
	unlockIndex := m.repo.lockIndex()
	defer unlockIndex()

	if result, err := m.currentRoom(ctx, playerID); err != nil || result != nil {
		return result, err
	}

	codes, err := m.repo.WaitingIndex(ctx)
	if err != nil {
		return nil, err
	}

	for _, code := range codes {
		room, err := m.liveRoom(ctx, code)
		if err != nil {
			return nil, err
		}
		if room == nil || !room.HasPlayer(playerID) {
			continue
		}

		var result *MatchResult
		err = m.repo.UpdateRoom(ctx, code, func(rm *Room) (time.Duration, error) {
			rm.EnsureStatus(playerID)
			result = newMatchResult(rm)
			return ActiveRoomTTL, nil
		})
		if errors.Is(err, ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	for _, code := range codes {
		room, err := m.liveRoom(ctx, code)
		if err != nil {
			return nil, err
		}
		if room != nil && len(room.Players) == 1 && room.Players[0] == playerID {
			return newMatchResult(room), nil
		}
	}

	for i, code := range codes {
		room, err := m.liveRoom(ctx, code)
		if err != nil {
			return nil, err
		}
		if room == nil || len(room.Players) != 1 || room.HasPlayer(playerID) {
			continue
		}

		var result *MatchResult
		err = m.repo.UpdateRoom(ctx, code, func(rm *Room) (time.Duration, error) {
			rm.AddPlayer(playerID)
			result = newMatchResult(rm)
			return ActiveRoomTTL, nil
		})
		if errors.Is(err, ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		remaining := make([]string, 0, len(codes)-1)
		remaining = append(remaining, codes[:i]...)
		remaining = append(remaining, codes[i+1:]...)
		if err := m.repo.SaveWaitingIndex(ctx, remaining); err != nil {
			return nil, err
		}
		if err := m.repo.SavePlayerRoom(ctx, playerID, code); err != nil {
			return nil, err
		}
		return result, nil
	}

	code, err := m.GenerateRoomCode(ctx)
	if err != nil {
		return nil, err
	}

	room := NewRoom(code, KindWaiting, playerID)
	if err := m.repo.SaveRoom(ctx, room, SoloRoomTTL); err != nil {
		return nil, err
	}
	if err := m.repo.SaveWaitingIndex(ctx, append(codes, code)); err != nil {
		return nil, err
	}
	if err := m.repo.SavePlayerRoom(ctx, playerID, code); err != nil {
		return nil, err
	}
	return newMatchResult(room), nil
}

// currentRoom resolves the player's reverse mapping to a live room they
// still occupy, refreshing their status record on the way. Returns nil when
// the mapping is missing or stale.
func (m *Matchmaker) currentRoom(ctx context.Context, playerID string) (*MatchResult, error) {
	code, err := m.repo.PlayerRoom(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, nil
	}

	room, err := m.repo.Room(ctx, code)
	if errors.Is(err, ErrRoomNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !room.HasPlayer(playerID) {
		return nil, nil
	}

	var result *MatchResult
	err = m.repo.UpdateRoom(ctx, code, func(rm *Room) (time.Duration, error) {
		rm.EnsureStatus(playerID)
		result = newMatchResult(rm)
		return ActiveRoomTTL, nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// liveRoom loads an indexed room, treating expired entries as absent. The
// index is deliberately not repaired here; entries age out as rooms expire.
func (m *Matchmaker) liveRoom(ctx context.Context, code string) (*Room, error) {
	room, err := m.repo.Room(ctx, code)
	if errors.Is(err, ErrRoomNotFound) {
		log.Printf("[Matchmaker] waiting index references expired room %s", code)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// JoinSpecific joins the room with the given code, creating a custom room
// with the joiner as sole occupant when the code is unknown.
func (m *Matchmaker) JoinSpecific(ctx context.Context, roomID, playerID string) (*MatchResult, error) {
	unlock := m.repo.lockRoom(roomID)
	defer unlock()

	room, err := m.repo.Room(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		room = NewRoom(roomID, KindCustom, playerID)
		if err := m.repo.SaveRoom(ctx, room, ActiveRoomTTL); err != nil {
			return nil, err
		}
		if err := m.repo.SavePlayerRoom(ctx, playerID, roomID); err != nil {
			return nil, err
		}
		return newMatchResult(room), nil
	}
	if err != nil {
		return nil, err
	}

	// No capacity check: a third joiner is accepted and only the reported
	// status tells the caller the room is already full.
	room.AddPlayer(playerID)
	if err := m.repo.SaveRoom(ctx, room, ActiveRoomTTL); err != nil {
		return nil, err
	}
	if err := m.repo.SavePlayerRoom(ctx, playerID, roomID); err != nil {
		return nil, err
	}
	return newMatchResult(room), nil
}

// Leave removes the player from the room. The last player leaving deletes
// the room and drops its code from the waiting index.
func (m *Matchmaker) Leave(ctx context.Context, roomID, playerID string) error {
	unlockIndex := m.repo.lockIndex()
	defer unlockIndex()
	unlockRoom := m.repo.lockRoom(roomID)
	defer unlockRoom()

	room, err := m.repo.Room(ctx, roomID)
	if err != nil {
		return err
	}

	if !room.RemovePlayer(playerID) {
		return ErrNotMember
	}

	if err := m.repo.DeletePlayerRoom(ctx, playerID); err != nil {
		return err
	}

	if len(room.Players) > 0 {
		return m.repo.SaveRoom(ctx, room, ActiveRoomTTL)
	}

	if err := m.repo.DeleteRoom(ctx, roomID); err != nil {
		return err
	}

	codes, err := m.repo.WaitingIndex(ctx)
	if err != nil {
		return err
	}
	for i, code := range codes {
		if code == roomID {
			codes = append(codes[:i], codes[i+1:]...)
			return m.repo.SaveWaitingIndex(ctx, codes)
		}
	}
	return nil
}

// EndGame tears the room down unconditionally, dropping the occupants'
// reverse mappings with it.
func (m *Matchmaker) EndGame(ctx context.Context, roomID string) error {
	unlock := m.repo.lockRoom(roomID)
	defer unlock()

	room, err := m.repo.Room(ctx, roomID)
	if err == nil {
		for _, playerID := range room.Players {
			if err := m.repo.DeletePlayerRoom(ctx, playerID); err != nil {
				return err
			}
		}
	} else if !errors.Is(err, ErrRoomNotFound) {
		return err
	}

	return m.repo.DeleteRoom(ctx, roomID)
}
