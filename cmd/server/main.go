package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"gitlab.com/danso/services/backend/internal/config"
	"gitlab.com/danso/services/backend/internal/content"
	"gitlab.com/danso/services/backend/internal/db"
	"gitlab.com/danso/services/backend/internal/identity"
	"gitlab.com/danso/services/backend/internal/ratelimit"
	"gitlab.com/danso/services/backend/internal/realtime"
	"gitlab.com/danso/services/backend/internal/store"
)

const (
	leaderboardSize = 10

	// Websocket watch channel
	watchInterval = 1 * time.Second
	writeWait     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure appropriately for production)
	},
}

type contextKey string

const userContextKey contextKey = "user"

type Server struct {
	db       *db.DB
	rooms    *realtime.RoomRepository
	realtime *realtime.Service
	resolver *identity.Service
	content  *content.Repository
	limiter  *ratelimit.Limiter
}

// packSourceAdapter exposes the content repository through the narrow
// interface the realtime engine consumes.
type packSourceAdapter struct {
	repo *content.Repository
}

func (a packSourceAdapter) RandomPack(ctx context.Context) (*realtime.GameSession, error) {
	pack, err := a.repo.RandomPack(ctx)
	if err != nil {
		return nil, err
	}
	return &realtime.GameSession{
		ID:        pack.ID,
		Name:      pack.Name,
		Author:    pack.Author,
		Sentences: pack.Sentences,
	}, nil
}

func main() {
	log.Println("[Server] Starting danso realtime backend...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("[Server] Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.NewDB()
	if err != nil {
		log.Fatalf("[Server] Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.MigrationsDir); err != nil {
		log.Fatalf("[Server] Failed to run migrations: %v", err)
	}

	// Initialize services
	contentRepo := content.NewRepository(database.Postgres)
	roomRepo := realtime.NewRoomRepository(store.NewRedis(database.Redis))
	realtimeService := realtime.NewService(roomRepo, packSourceAdapter{contentRepo})
	resolver := identity.NewService(database.Postgres)
	rateLimiter := ratelimit.NewLimiter(database.Redis)

	server := &Server{
		db:       database,
		rooms:    roomRepo,
		realtime: realtimeService,
		resolver: resolver,
		content:  contentRepo,
		limiter:  rateLimiter,
	}

	// Setup router
	router := server.setupRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{cfg.AllowedOrigin},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Login-Code"},
	}).Handler(router)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[Server] HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("[Server] Server forced to shutdown: %v", err)
	}

	log.Println("[Server] Server exited gracefully")
}

func (s *Server) setupRouter() *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Auth
	router.HandleFunc("/auth/register", s.handleRegister).Methods("POST")

	// Matchmaking
	router.HandleFunc("/realtime/match/player", s.authMiddleware(s.handleMatchPlayer)).Methods("POST")
	router.HandleFunc("/realtime/match/join", s.authMiddleware(s.handleJoinRoom)).Methods("POST")
	router.HandleFunc("/realtime/match/status", s.authMiddleware(s.handleMatchStatus)).Methods("GET")

	// In-game
	router.HandleFunc("/realtime/game/{roomId}/heartbeat", s.authMiddleware(s.handleHeartbeat)).Methods("POST")
	router.HandleFunc("/realtime/game/{roomId}/missed", s.authMiddleware(s.handleMissedWord)).Methods("POST")
	router.HandleFunc("/realtime/game/{roomId}/leave", s.authMiddleware(s.handleLeave)).Methods("POST")
	router.HandleFunc("/realtime/game/{roomId}/watch", s.authMiddleware(s.handleWatch)).Methods("GET")

	// Leaderboard
	router.HandleFunc("/leaderboard", s.handleLeaderboard).Methods("GET")
	router.HandleFunc("/leaderboard", s.authMiddleware(s.handleSubmitScore)).Methods("POST")

	return router
}

// Middleware

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loginCode := r.Header.Get("X-Login-Code")
		if loginCode == "" {
			writeError(w, http.StatusBadRequest, "Login code is required")
			return
		}

		user, err := s.resolver.Resolve(r.Context(), loginCode)
		if errors.Is(err, identity.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "Invalid login code")
			return
		}
		if err != nil {
			log.Printf("[Server] Failed to resolve login code: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to resolve identity")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func userFrom(ctx context.Context) *identity.User {
	user, _ := ctx.Value(userContextKey).(*identity.User)
	return user
}

// Response helpers

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Health(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unhealthy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nickname == "" {
		writeError(w, http.StatusBadRequest, "Nickname is required")
		return
	}

	user, loginCode, err := s.resolver.Register(r.Context(), req.Nickname)
	if err != nil {
		log.Printf("[Server] Failed to register user: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":       user,
		"login_code": loginCode,
	})
}

// packPreview is the match-response teaser: pack metadata without the
// sentences. The pack actually played is fixed later, on the first matched
// status poll.
func (s *Server) packPreview(ctx context.Context) map[string]interface{} {
	pack, err := s.content.RandomPack(ctx)
	if err != nil {
		log.Printf("[Server] Failed to load pack preview: %v", err)
		return nil
	}
	return map[string]interface{}{
		"id":     pack.ID,
		"name":   pack.Name,
		"author": pack.Author,
	}
}

func (s *Server) handleMatchPlayer(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	if err := s.limiter.CheckMatchAttempt(r.Context(), user.ID, clientIP(r)); err != nil {
		writeError(w, http.StatusTooManyRequests, "Too many match attempts")
		return
	}

	result, err := s.realtime.Matchmaker.JoinRandom(r.Context(), user.ID)
	if err != nil {
		log.Printf("[Server] Random match failed for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Matchmaking failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": result.RoomID,
		"status":  result.Status,
		"players": result.Players,
		"game":    s.packPreview(r.Context()),
	})
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	roomID := r.FormValue("room_id")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "room_id is required")
		return
	}

	result, err := s.realtime.Matchmaker.JoinSpecific(r.Context(), roomID, user.ID)
	if err != nil {
		log.Printf("[Server] Join room %s failed for %s: %v", roomID, user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to join room")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": result.RoomID,
		"status":  result.Status,
		"players": result.Players,
		"game":    s.packPreview(r.Context()),
	})
}

func (s *Server) handleMatchStatus(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "room_id is required")
		return
	}

	result, err := s.realtime.MatchStatus(r.Context(), roomID, user.ID)
	if errors.Is(err, realtime.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		log.Printf("[Server] Match status for room %s failed: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "Failed to load match status")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	roomID := mux.Vars(r)["roomId"]

	nowText := r.FormValue("now_text")
	position, _ := strconv.Atoi(r.FormValue("position"))
	heart := realtime.DefaultHearts
	if v := r.FormValue("heart"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			heart = parsed
		}
	}

	view, err := s.realtime.Heartbeat(r.Context(), roomID, user.ID, nowText, position, heart)
	switch {
	case errors.Is(err, realtime.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "Room not found")
		return
	case errors.Is(err, realtime.ErrNotMember):
		writeError(w, http.StatusForbidden, "User is not in the room")
		return
	case errors.Is(err, realtime.ErrNotReady):
		writeError(w, http.StatusConflict, "Room is still waiting for an opponent")
		return
	case err != nil:
		log.Printf("[Server] Heartbeat for room %s failed: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "Heartbeat failed")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMissedWord(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	roomID := mux.Vars(r)["roomId"]

	err := s.realtime.MissedWord(r.Context(), roomID, user.ID)
	if errors.Is(err, realtime.ErrRoomNotFound) || errors.Is(err, realtime.ErrNotMember) {
		writeError(w, http.StatusBadRequest, "Failed to process missed word")
		return
	}
	if err != nil {
		log.Printf("[Server] Missed word for room %s failed: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "Failed to process missed word")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	roomID := mux.Vars(r)["roomId"]

	err := s.realtime.Leave(r.Context(), roomID, user.ID)
	if errors.Is(err, realtime.ErrRoomNotFound) || errors.Is(err, realtime.ErrNotMember) {
		writeError(w, http.StatusBadRequest, "Failed to leave room")
		return
	}
	if err != nil {
		log.Printf("[Server] Leave room %s failed: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "Failed to leave room")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// handleWatch streams the opponent view over a websocket. It is a read-only
// push channel layered over the polling contract: it never drains the event
// mailbox, so one-shot events still belong to the heartbeat exchange.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	roomID := mux.Vars(r)["roomId"]

	room, err := s.rooms.Room(r.Context(), roomID)
	if errors.Is(err, realtime.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load room")
		return
	}
	if !room.HasPlayer(user.ID) {
		writeError(w, http.StatusForbidden, "User is not in the room")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Read pump: the client sends nothing meaningful, but reading is how
	// we notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			view, err := s.realtime.Tracker.OpponentStatus(r.Context(), roomID, user.ID)
			if errors.Is(err, realtime.ErrRoomNotFound) {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteJSON(map[string]string{"event": string(realtime.EventGameEnded)})
				return
			}
			if errors.Is(err, realtime.ErrNoOpponent) {
				view = &realtime.OpponentView{Event: realtime.EventLeft}
			} else if err != nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(view); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.content.TopScores(r.Context(), leaderboardSize)
	if err != nil {
		log.Printf("[Server] Failed to load leaderboard: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load leaderboard")
		return
	}
	if entries == nil {
		entries = []content.ScoreEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	score, err := strconv.Atoi(r.FormValue("score"))
	if err != nil || score < 0 {
		writeError(w, http.StatusBadRequest, "score is required")
		return
	}

	if err := s.content.SubmitScore(r.Context(), user.ID, score); err != nil {
		log.Printf("[Server] Failed to submit score for %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to submit score")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
