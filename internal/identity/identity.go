// Package identity resolves opaque login credentials to stable user ids.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// ErrUnauthorized is returned when a login code does not resolve to a user.
var ErrUnauthorized = errors.New("identity: unknown login code")

// User is the resolved identity attached to a request.
type User struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// Resolver turns the opaque X-Login-Code credential into a User.
type Resolver interface {
	Resolve(ctx context.Context, loginCode string) (*User, error)
}

// Service resolves login codes against the users table.
type Service struct {
	db *sql.DB
}

// NewService creates the identity service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Resolve looks the login code up and returns the owning user.
func (s *Service) Resolve(ctx context.Context, loginCode string) (*User, error) {
	if loginCode == "" {
		return nil, ErrUnauthorized
	}

	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, nickname FROM users WHERE login_code = $1`,
		loginCode,
	).Scan(&user.ID, &user.Nickname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("resolve login code: %w", err)
	}
	return &user, nil
}

// Register creates a user with a fresh id and login code and returns both.
func (s *Service) Register(ctx context.Context, nickname string) (*User, string, error) {
	user := &User{
		ID:       uuid.New().String(),
		Nickname: nickname,
	}
	code := generateLoginCode()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, nickname, login_code) VALUES ($1, $2, $3)`,
		user.ID, user.Nickname, code,
	)
	if err != nil {
		return nil, "", fmt.Errorf("register user: %w", err)
	}
	return user, code, nil
}

// generateLoginCode builds a short shareable credential: one capital letter
// followed by five digits.
func generateLoginCode() string {
	code := make([]byte, 6)
	code[0] = byte('A' + rand.Intn(26))
	for i := 1; i < len(code); i++ {
		code[i] = byte('0' + rand.Intn(10))
	}
	return string(code)
}
