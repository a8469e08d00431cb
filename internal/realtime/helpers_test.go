package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitlab.com/danso/services/backend/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stubPacks serves a fixed pack and counts how often it is asked.
type stubPacks struct {
	mu    sync.Mutex
	pack  GameSession
	calls int
}

func (s *stubPacks) RandomPack(ctx context.Context) (*GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	pack := s.pack
	return &pack, nil
}

func (s *stubPacks) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func defaultStubPacks() *stubPacks {
	return &stubPacks{pack: GameSession{
		ID:        1,
		Name:      "proverbs",
		Author:    "tester",
		Sentences: []string{"first line", "second line", "third line", "fourth line"},
	}}
}

type testEngine struct {
	svc   *Service
	repo  *RoomRepository
	clock *fakeClock
	packs *stubPacks
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	clock := newFakeClock()
	mem := store.NewMemory()
	mem.SetClock(clock.Now)

	repo := NewRoomRepository(mem)
	packs := defaultStubPacks()
	svc := NewService(repo, packs)
	svc.setClock(clock.Now)

	return &testEngine{
		svc:   svc,
		repo:  repo,
		clock: clock,
		packs: packs,
	}
}

// matchPair walks two players through random matching and the status poll
// that attaches the sentence pack, returning the shared room code.
func (e *testEngine) matchPair(t *testing.T, p1, p2 string) string {
	t.Helper()
	ctx := context.Background()

	first, err := e.svc.Matchmaker.JoinRandom(ctx, p1)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, first.Status)

	second, err := e.svc.Matchmaker.JoinRandom(ctx, p2)
	require.NoError(t, err)
	require.Equal(t, StatusMatched, second.Status)
	require.Equal(t, first.RoomID, second.RoomID)

	_, err = e.svc.MatchStatus(ctx, first.RoomID, p1)
	require.NoError(t, err)

	return first.RoomID
}
