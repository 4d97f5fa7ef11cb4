// Package score archives the results of finished games in postgres.
//
// The archive is write-once per session and player; a running session never
// reads from it.
package score

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

//go:embed schema.sql
var schema string

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Config struct {
	EventBus *event.Bus
	DB       DB
}

type Service struct {
	eb *event.Bus
	db DB
}

func NewService(c Config) *Service {
	s := &Service{
		eb: c.EventBus,
		db: c.DB,
	}

	s.eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		return s.ArchiveResults(ctx, e.(domain.EventGameEnded))
	})

	return s
}

// EnsureSchema creates the results table if it does not exist.
func (s *Service) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("score: ensure schema: %w", err)
	}

	return nil
}

// Result is an archived standing of one player.
type Result struct {
	SessionID   string          `json:"session_id"`
	Username    string          `json:"username"`
	QuizID      string          `json:"quiz_id"`
	Questions   int             `json:"questions"`
	Score       int             `json:"score"`
	Accuracy    decimal.Decimal `json:"accuracy"`
	RoundScores []int32         `json:"round_scores"`
	EndTime     time.Time       `json:"end_time"`
}

// ArchiveResults stores one row per player of a finished game. Archiving the
// same session twice keeps the first rows.
func (s *Service) ArchiveResults(ctx context.Context, e domain.EventGameEnded) error {
	const stmt = `
INSERT INTO game_results (session_id, username, quiz_id, questions, score, accuracy, round_scores, end_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id, username) DO NOTHING;`

	if len(e.Players) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, p := range e.Players {
		rounds := make([]int32, 0, len(p.RoundScores))
		for _, r := range p.RoundScores {
			rounds = append(rounds, int32(r))
		}

		b.Queue(stmt, e.SessionID, p.Username, e.QuizID, e.Questions, p.Score,
			Accuracy(p.Score, e.Questions), rounds, e.EndTime)
	}

	if err := s.db.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("score: archive session %s: %w", e.SessionID, err)
	}

	return nil
}

type ListResultsRequest struct {
	SessionID string
}

// ListResults returns the archived results of a session, best first.
func (s *Service) ListResults(ctx context.Context, req ListResultsRequest) ([]Result, error) {
	const stmt = `
SELECT session_id, username, quiz_id, questions, score, accuracy, round_scores, end_time
FROM game_results
WHERE session_id = $1
ORDER BY score DESC, username ASC;`

	rows, err := s.db.Query(ctx, stmt, req.SessionID)
	if err != nil {
		return nil, err
	}

	results, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Result, error) {
		var res Result
		err := r.Scan(&res.SessionID, &res.Username, &res.QuizID, &res.Questions,
			&res.Score, &res.Accuracy, &res.RoundScores, &res.EndTime)
		return res, err
	})
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no results for session %s", req.SessionID))
	}

	return results, nil
}

// Accuracy is the share of questions answered correctly, rounded to four places.
func Accuracy(score, questions int) decimal.Decimal {
	if questions <= 0 {
		return decimal.Zero
	}

	return decimal.NewFromInt(int64(score)).
		DivRound(decimal.NewFromInt(int64(questions)), 4)
}
