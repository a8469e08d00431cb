package realtime

import (
	"context"
	"errors"
	"time"
)

// gameTimeoutAfter is the heartbeat silence that is fatal to the whole
// room, as opposed to the 5s staleness that merely flags the opponent.
const gameTimeoutAfter = 20 * time.Second

// TimeoutSupervisor derives game-level liveness from heartbeat timestamps.
// Timeouts are polling-detected; nothing here pushes or cancels.
type TimeoutSupervisor struct {
	repo *RoomRepository
	now  func() time.Time
}

// NewTimeoutSupervisor creates a supervisor over the repository.
func NewTimeoutSupervisor(repo *RoomRepository) *TimeoutSupervisor {
	return &TimeoutSupervisor{
		repo: repo,
		now:  time.Now,
	}
}

// CheckGameTimeout reports whether any player has been silent long enough
// that the game must end. A missing room never times out.
func (s *TimeoutSupervisor) CheckGameTimeout(ctx context.Context, roomID string) (bool, error) {
	room, err := s.repo.Room(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, status := range room.Status {
		if status.LastHeartbeat.IsZero() {
			continue
		}
		if s.now().Sub(status.LastHeartbeat) > gameTimeoutAfter {
			return true, nil
		}
	}
	return false, nil
}
