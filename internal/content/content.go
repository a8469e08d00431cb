// Package content supplies sentence packs and leaderboard persistence. The
// realtime engine consumes it only through narrow read/write calls.
package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNoPacks is returned when the sentence_packs table is empty.
var ErrNoPacks = errors.New("content: no sentence packs available")

// SentencePack is an ordered set of passages for one duel.
type SentencePack struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Author    string   `json:"author"`
	Sentences []string `json:"sentences"`
}

// ScoreEntry is one leaderboard row.
type ScoreEntry struct {
	Nickname string `json:"username"`
	Score    int    `json:"score"`
}

// Repository reads packs and scores from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates the content repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RandomPack draws one pack at random. Sentences are stored as one
// newline-separated text column.
func (r *Repository) RandomPack(ctx context.Context) (*SentencePack, error) {
	var (
		pack   SentencePack
		author sql.NullString
		raw    string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, u.nickname, p.sentences
		FROM sentence_packs p
		LEFT JOIN users u ON u.id = p.author_id
		ORDER BY random()
		LIMIT 1
	`).Scan(&pack.ID, &pack.Name, &author, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPacks
	}
	if err != nil {
		return nil, fmt.Errorf("select random pack: %w", err)
	}

	pack.Author = "Unknown"
	if author.Valid {
		pack.Author = author.String
	}
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			pack.Sentences = append(pack.Sentences, line)
		}
	}
	return &pack, nil
}

// SubmitScore records a finished race result for the user.
func (r *Repository) SubmitScore(ctx context.Context, userID string, score int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scores (user_id, score) VALUES ($1, $2)`,
		userID, score,
	)
	if err != nil {
		return fmt.Errorf("submit score: %w", err)
	}
	return nil
}

// TopScores returns each player's best score, highest first.
func (r *Repository) TopScores(ctx context.Context, limit int) ([]ScoreEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.nickname, MAX(s.score) AS best
		FROM scores s
		JOIN users u ON u.id = s.user_id
		GROUP BY u.nickname
		ORDER BY best DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top scores: %w", err)
	}
	defer rows.Close()

	var entries []ScoreEntry
	for rows.Next() {
		var entry ScoreEntry
		if err := rows.Scan(&entry.Nickname, &entry.Score); err != nil {
			return nil, fmt.Errorf("scan score row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
