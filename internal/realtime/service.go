package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotMember is returned when the caller does not occupy the room.
	ErrNotMember = errors.New("realtime: player is not in the room")

	// ErrNotReady is returned for in-game operations on a room that is
	// still waiting for its second player.
	ErrNotReady = errors.New("realtime: room is not in a running state")

	// ErrNoOpponent is returned when the room holds nobody besides the
	// caller.
	ErrNoOpponent = errors.New("realtime: no opponent in room")
)

// PackSource supplies the sentence pack attached to a room on its first
// matched status poll. It is the narrow boundary to the content repository.
type PackSource interface {
	RandomPack(ctx context.Context) (*GameSession, error)
}

// Service ties the realtime components together behind the operations the
// HTTP layer exposes. Each component performs its own serialized
// read-modify-write, so the per-request sequences below are built from
// atomic steps rather than one long transaction.
type Service struct {
	repo       *RoomRepository
	packs      PackSource
	Matchmaker *Matchmaker
	Tracker    *SessionTracker
	Mailbox    *EventMailbox
	Supervisor *TimeoutSupervisor
}

// NewService wires the engine over the given repository and pack source.
func NewService(repo *RoomRepository, packs PackSource) *Service {
	return &Service{
		repo:       repo,
		packs:      packs,
		Matchmaker: NewMatchmaker(repo),
		Tracker:    NewSessionTracker(repo),
		Mailbox:    NewEventMailbox(repo),
		Supervisor: NewTimeoutSupervisor(repo),
	}
}

// setClock points every time-based check at one clock. Tests drive it.
func (s *Service) setClock(now func() time.Time) {
	s.Tracker.now = now
	s.Supervisor.now = now
}

// MatchStatusResult mirrors the status-poll payload.
type MatchStatusResult struct {
	RoomID      string       `json:"room_id"`
	Status      string       `json:"status"`
	IsInRoom    bool         `json:"is_in_room"`
	Players     []string     `json:"players"`
	PlayerCount int          `json:"player_count"`
	Game        *GameSession `json:"game,omitempty"`
}

// MatchStatus reports the room's current shape and, on the first poll after
// both players are present, draws and attaches the sentence pack.
func (s *Service) MatchStatus(ctx context.Context, roomID, playerID string) (*MatchStatusResult, error) {
	room, err := s.repo.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}

	matched := len(room.Players) >= 2
	game := room.Game

	if matched && game == nil {
		pack, err := s.packs.RandomPack(ctx)
		if err != nil {
			return nil, fmt.Errorf("select sentence pack: %w", err)
		}
		err = s.repo.UpdateRoom(ctx, roomID, func(rm *Room) (time.Duration, error) {
			// A concurrent poll may have attached a pack first; the
			// first assignment wins.
			rm.AttachGame(pack)
			game = rm.Game
			return ActiveRoomTTL, nil
		})
		if err != nil {
			return nil, err
		}
	}

	result := &MatchStatusResult{
		RoomID:      roomID,
		Status:      StatusWaiting,
		IsInRoom:    room.HasPlayer(playerID),
		Players:     room.Players,
		PlayerCount: len(room.Players),
	}
	if matched {
		result.Status = StatusMatched
		result.Game = game
	}
	return result, nil
}

// Heartbeat pushes the caller's status and pulls the combined opponent
// view. The sequence is: membership check, terminal game-timeout check,
// status update, opponent status, mailbox drain (a drained tag overrides
// the condition tag), then the stale-timeout override.
func (s *Service) Heartbeat(ctx context.Context, roomID, playerID, nowText string, position, heart int) (*OpponentView, error) {
	room, err := s.repo.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasPlayer(playerID) {
		return nil, ErrNotMember
	}
	if room.State == StateWaiting {
		return nil, ErrNotReady
	}

	expired, err := s.Supervisor.CheckGameTimeout(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if expired {
		// Best effort: the tag only reaches a reader that drains before
		// the delete lands.
		if err := s.Mailbox.Add(ctx, roomID, playerID, EventGameEnded); err != nil && !errors.Is(err, ErrRoomNotFound) {
			return nil, err
		}
		if err := s.Matchmaker.EndGame(ctx, roomID); err != nil {
			return nil, err
		}
		return &OpponentView{Event: EventGameEnded}, nil
	}

	if err := s.Tracker.UpdateStatus(ctx, roomID, playerID, nowText, position, heart); err != nil {
		return nil, err
	}

	view, err := s.Tracker.OpponentStatus(ctx, roomID, playerID)
	if errors.Is(err, ErrNoOpponent) {
		// The opponent already left; the departure tag, if unread, is
		// still in the mailbox below.
		view = &OpponentView{Event: EventLeft}
	} else if err != nil {
		return nil, err
	}

	drained, err := s.Mailbox.GetAndClear(ctx, roomID, playerID)
	if err != nil {
		return nil, err
	}
	if len(drained) > 0 {
		view.Event = drained[0]
	}

	// A stale heartbeat with a live heart and both players still present
	// is a false positive from a gap between polls.
	if view.Event == EventTimeout && view.Heart > 0 && len(room.Players) >= 2 {
		view.Event = EventReconnected
	}

	return view, nil
}

// MissedWord decrements the caller's own heart (floor 0) and queues a
// damaged event for the opponent.
func (s *Service) MissedWord(ctx context.Context, roomID, playerID string) error {
	err := s.repo.UpdateRoom(ctx, roomID, func(room *Room) (time.Duration, error) {
		status, ok := room.Status[playerID]
		if !ok {
			return 0, ErrNotMember
		}
		if status.Heart > 0 {
			status.Heart--
		}
		return ActiveRoomTTL, nil
	})
	if err != nil {
		return err
	}
	return s.Mailbox.Add(ctx, roomID, playerID, EventDamaged)
}

// Leave removes the player from the room and tells the opponent. When the
// last player leaves, the room is gone and there is nobody to tell.
func (s *Service) Leave(ctx context.Context, roomID, playerID string) error {
	if err := s.Matchmaker.Leave(ctx, roomID, playerID); err != nil {
		return err
	}
	if err := s.Mailbox.Add(ctx, roomID, playerID, EventLeft); err != nil && !errors.Is(err, ErrRoomNotFound) {
		return err
	}
	return nil
}
