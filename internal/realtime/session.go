package realtime

import (
	"context"
	"time"
)

// opponentStaleAfter is the heartbeat silence after which the opponent is
// reported as timed out. Deliberately much tighter than the game timeout.
const opponentStaleAfter = 5 * time.Second

// OpponentView is the per-poll report on the other player. Only one event
// surfaces per call; the mailbox-drained event may override it upstream.
type OpponentView struct {
	NowText              string   `json:"now_text"`
	Position             int      `json:"position"`
	Heart                int      `json:"heart"`
	CompletionPercentage float64  `json:"completion_percentage"`
	Event                EventTag `json:"event"`
}

// SessionTracker records per-player live progress and computes the
// opponent-facing view of it.
type SessionTracker struct {
	repo *RoomRepository
	now  func() time.Time
}

// NewSessionTracker creates a tracker over the repository.
func NewSessionTracker(repo *RoomRepository) *SessionTracker {
	return &SessionTracker{
		repo: repo,
		now:  time.Now,
	}
}

// UpdateStatus overwrites the player's status wholesale, stamping the
// heartbeat time and recomputing completion against the attached pack.
func (t *SessionTracker) UpdateStatus(ctx context.Context, roomID, playerID, nowText string, position, heart int) error {
	return t.repo.UpdateRoom(ctx, roomID, func(room *Room) (time.Duration, error) {
		completion := 0.0
		if room.Game != nil && len(room.Game.Sentences) > 0 {
			completion = float64(position) / float64(len(room.Game.Sentences)) * 100
		}

		if room.Status == nil {
			room.Status = make(map[string]*PlayerStatus)
		}
		room.Status[playerID] = &PlayerStatus{
			NowText:              nowText,
			Position:             position,
			Heart:                heart,
			CompletionPercentage: completion,
			LastHeartbeat:        t.now(),
		}
		return ActiveRoomTTL, nil
	})
}

// OpponentStatus reports the other player's progress plus the first
// applicable condition tag, checked in fixed priority order: timeout,
// damaged, left. An opponent who has never sent a status reads as timeout.
func (t *SessionTracker) OpponentStatus(ctx context.Context, roomID, playerID string) (*OpponentView, error) {
	room, err := t.repo.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}

	opponentID, ok := room.Opponent(playerID)
	if !ok {
		return nil, ErrNoOpponent
	}

	status, ok := room.Status[opponentID]
	if !ok {
		return &OpponentView{Event: EventTimeout}, nil
	}

	view := &OpponentView{
		NowText:              status.NowText,
		Position:             status.Position,
		Heart:                status.Heart,
		CompletionPercentage: status.CompletionPercentage,
		Event:                EventIdle,
	}

	switch {
	case t.now().Sub(status.LastHeartbeat) > opponentStaleAfter:
		view.Event = EventTimeout
	case status.Heart <= 0:
		view.Event = EventDamaged
	case len(room.Players) < 2:
		view.Event = EventLeft
	}
	return view, nil
}
