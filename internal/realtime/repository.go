package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gitlab.com/danso/services/backend/internal/store"
)

const (
	roomKeyPrefix   = "room:"
	playerKeyPrefix = "player_room:"
	waitingIndexKey = "waiting_rooms"

	// SoloRoomTTL bounds a freshly created room that still waits for its
	// second player.
	SoloRoomTTL = 600 * time.Second

	// ActiveRoomTTL applies to any room touched after creation.
	ActiveRoomTTL = 3600 * time.Second
)

// ErrRoomNotFound is returned when a room code is unknown or the record has
// already expired out of the store.
var ErrRoomNotFound = errors.New("realtime: room not found")

// RoomRepository owns serialization of Room records and the waiting index.
// The underlying store exposes only get/set/delete, so every mutation is a
// read-modify-write; a per-key lock serializes writers on the same key so
// concurrent handlers cannot silently clobber each other's updates.
type RoomRepository struct {
	store store.Store
	locks *keyedMutex
}

// NewRoomRepository creates a repository over the given store.
func NewRoomRepository(s store.Store) *RoomRepository {
	return &RoomRepository{
		store: s,
		locks: newKeyedMutex(),
	}
}

func roomKey(code string) string { return roomKeyPrefix + code }

// lockRoom serializes multi-step operations on one room. Callers that also
// hold the waiting-index lock must acquire it before any room lock.
func (r *RoomRepository) lockRoom(code string) func() {
	return r.locks.lock(roomKey(code))
}

// lockIndex serializes mutations of the waiting index.
func (r *RoomRepository) lockIndex() func() {
	return r.locks.lock(waitingIndexKey)
}

// Room loads a room by code.
func (r *RoomRepository) Room(ctx context.Context, code string) (*Room, error) {
	data, err := r.store.Get(ctx, roomKey(code))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", code, err)
	}

	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", code, err)
	}
	return &room, nil
}

// SaveRoom persists the room with the given TTL.
func (r *RoomRepository) SaveRoom(ctx context.Context, room *Room, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", room.Code, err)
	}
	if err := r.store.Set(ctx, roomKey(room.Code), data, ttl); err != nil {
		return fmt.Errorf("save room %s: %w", room.Code, err)
	}
	return nil
}

// DeleteRoom removes the room record.
func (r *RoomRepository) DeleteRoom(ctx context.Context, code string) error {
	if err := r.store.Delete(ctx, roomKey(code)); err != nil {
		return fmt.Errorf("delete room %s: %w", code, err)
	}
	return nil
}

// UpdateRoom applies fn to the freshest stored copy of the room under the
// room's lock and persists the result with the TTL fn returns.
func (r *RoomRepository) UpdateRoom(ctx context.Context, code string, fn func(*Room) (time.Duration, error)) error {
	unlock := r.lockRoom(code)
	defer unlock()

	room, err := r.Room(ctx, code)
	if err != nil {
		return err
	}

	ttl, err := fn(room)
	if err != nil {
		return err
	}
	return r.SaveRoom(ctx, room, ttl)
}

// PlayerRoom returns the code of the room the player was last placed in.
// The mapping is best-effort: the room may have expired underneath it, so
// callers must confirm the room is live and still holds the player.
func (r *RoomRepository) PlayerRoom(ctx context.Context, playerID string) (string, error) {
	data, err := r.store.Get(ctx, playerKeyPrefix+playerID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load player room for %s: %w", playerID, err)
	}
	return string(data), nil
}

// SavePlayerRoom records which room the player occupies.
func (r *RoomRepository) SavePlayerRoom(ctx context.Context, playerID, code string) error {
	if err := r.store.Set(ctx, playerKeyPrefix+playerID, []byte(code), ActiveRoomTTL); err != nil {
		return fmt.Errorf("save player room for %s: %w", playerID, err)
	}
	return nil
}

// DeletePlayerRoom drops the player's room mapping.
func (r *RoomRepository) DeletePlayerRoom(ctx context.Context, playerID string) error {
	if err := r.store.Delete(ctx, playerKeyPrefix+playerID); err != nil {
		return fmt.Errorf("delete player room for %s: %w", playerID, err)
	}
	return nil
}

// WaitingIndex returns the room codes currently open for random matching.
// A missing key reads as an empty index. Codes may reference rooms that
// have already expired; callers treat those as "no match".
func (r *RoomRepository) WaitingIndex(ctx context.Context) ([]string, error) {
	data, err := r.store.Get(ctx, waitingIndexKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load waiting index: %w", err)
	}

	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return nil, fmt.Errorf("decode waiting index: %w", err)
	}
	return codes, nil
}

// SaveWaitingIndex persists the waiting index. The index never expires.
func (r *RoomRepository) SaveWaitingIndex(ctx context.Context, codes []string) error {
	data, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("encode waiting index: %w", err)
	}
	if err := r.store.Set(ctx, waitingIndexKey, data, 0); err != nil {
		return fmt.Errorf("save waiting index: %w", err)
	}
	return nil
}
