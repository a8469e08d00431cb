package realtime

import (
	"context"
	"errors"
	"time"
)

// EventMailbox holds one-shot notification tags per player per room.
// Delivery is at-most-once and non-durable: a drained tag is gone, and the
// queue dies with the room.
type EventMailbox struct {
	repo *RoomRepository
}

// NewEventMailbox creates a mailbox over the repository.
func NewEventMailbox(repo *RoomRepository) *EventMailbox {
	return &EventMailbox{repo: repo}
}

// Add queues the tag for every player in the room other than the source.
// With two-player rooms that is the one opponent.
func (m *EventMailbox) Add(ctx context.Context, roomID, sourcePlayerID string, tag EventTag) error {
	return m.repo.UpdateRoom(ctx, roomID, func(room *Room) (time.Duration, error) {
		if room.Events == nil {
			room.Events = make(map[string][]EventTag)
		}
		for _, id := range room.Players {
			if id != sourcePlayerID {
				room.Events[id] = append(room.Events[id], tag)
			}
		}
		return ActiveRoomTTL, nil
	})
}

// GetAndClear drains the player's queue within a single locked update, so a
// tag is handed to exactly one reader. A vanished room drains to nothing.
func (m *EventMailbox) GetAndClear(ctx context.Context, roomID, playerID string) ([]EventTag, error) {
	var drained []EventTag
	err := m.repo.UpdateRoom(ctx, roomID, func(room *Room) (time.Duration, error) {
		drained = room.Events[playerID]
		if len(drained) > 0 {
			room.Events[playerID] = nil
		}
		return ActiveRoomTTL, nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return drained, nil
}
