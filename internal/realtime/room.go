// Package realtime implements the matchmaking and duel-synchronization
// engine: pairing players into rooms, tracking live race progress,
// detecting disconnects and delivering one-shot events between opponents.
package realtime

import "time"

// RoomKind distinguishes rooms created by random matchmaking from rooms
// joined through an explicit code.
type RoomKind string

const (
	KindWaiting RoomKind = "waiting"
	KindCustom  RoomKind = "custom"
)

// RoomState is the explicit lifecycle of a room:
//
//	waiting (one player) -> matched (two players) -> in_game (pack attached)
//
// An ended room is deleted from the store, so "ended" has no stored state.
type RoomState string

const (
	StateWaiting RoomState = "waiting"
	StateMatched RoomState = "matched"
	StateInGame  RoomState = "in_game"
)

// EventTag is a one-shot notification queued for the opponent.
type EventTag string

const (
	EventDamaged     EventTag = "damaged"
	EventTimeout     EventTag = "timeout"
	EventReconnected EventTag = "reconnected"
	EventGameEnded   EventTag = "game_ended"
	EventLeft        EventTag = "left"
	EventIdle        EventTag = "idle"
)

// DefaultHearts is the number of lives a player starts with.
const DefaultHearts = 5

// PlayerStatus is a player's live progress inside a room. It is overwritten
// wholesale on every heartbeat and dies with the room.
type PlayerStatus struct {
	NowText              string    `json:"now_text"`
	Position             int       `json:"position"`
	Heart                int       `json:"heart"`
	CompletionPercentage float64   `json:"completion_percentage"`
	LastHeartbeat        time.Time `json:"last_heartbeat"`
}

// GameSession is the sentence pack attached to a room once both players are
// present. Immutable after assignment.
type GameSession struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Author    string   `json:"author"`
	Sentences []string `json:"sentences"`
}

// Room pairs up to two players for one duel. Rooms are ephemeral: the store
// expires them by TTL and the last player leaving deletes them outright.
type Room struct {
	Code    string                   `json:"code"`
	Kind    RoomKind                 `json:"kind"`
	State   RoomState                `json:"state"`
	Players []string                 `json:"players"`
	Game    *GameSession             `json:"game,omitempty"`
	Status  map[string]*PlayerStatus `json:"player_status,omitempty"`
	Events  map[string][]EventTag    `json:"events,omitempty"`
}

// NewRoom creates a room holding its first player.
func NewRoom(code string, kind RoomKind, playerID string) *Room {
	room := &Room{
		Code:    code,
		Kind:    kind,
		State:   StateWaiting,
		Players: []string{playerID},
	}
	room.EnsureStatus(playerID)
	return room
}

// HasPlayer reports whether the player occupies this room.
func (r *Room) HasPlayer(playerID string) bool {
	for _, id := range r.Players {
		if id == playerID {
			return true
		}
	}
	return false
}

// AddPlayer appends the player and moves the room forward to matched once
// two players are present. Adding an existing player is a no-op.
func (r *Room) AddPlayer(playerID string) {
	if r.HasPlayer(playerID) {
		r.EnsureStatus(playerID)
		return
	}

	r.Players = append(r.Players, playerID)
	r.EnsureStatus(playerID)

	if len(r.Players) >= 2 && r.State == StateWaiting {
		r.State = StateMatched
	}
}

// RemovePlayer drops the player from the room. Their status and queued
// events die with the room, not here.
func (r *Room) RemovePlayer(playerID string) bool {
	for i, id := range r.Players {
		if id == playerID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			return true
		}
	}
	return false
}

// Opponent returns the first player other than the given one.
func (r *Room) Opponent(playerID string) (string, bool) {
	for _, id := range r.Players {
		if id != playerID {
			return id, true
		}
	}
	return "", false
}

// EnsureStatus returns the player's status record, creating it with full
// hearts on first sight.
func (r *Room) EnsureStatus(playerID string) *PlayerStatus {
	if r.Status == nil {
		r.Status = make(map[string]*PlayerStatus)
	}
	status, ok := r.Status[playerID]
	if !ok {
		status = &PlayerStatus{Heart: DefaultHearts}
		r.Status[playerID] = status
	}
	return status
}

// AttachGame fixes the sentence pack for the duel and enters in_game. The
// first assignment wins; later calls are ignored.
func (r *Room) AttachGame(game *GameSession) {
	if r.Game != nil {
		return
	}
	r.Game = game
	r.State = StateInGame
}
