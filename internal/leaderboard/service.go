// Package leaderboard mirrors session scores into a redis sorted set so
// spectators can read standings without touching the session loop.
package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	keyTTL          = 24 * time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNamePlayerConnected, func(ctx context.Context, e event.Event) error {
		pc := e.(domain.EventPlayerConnected)
		return s.addPlayer(ctx, pc.SessionID, pc.Username)
	})

	s.eb.Subscribe(domain.EventNameAnswerSubmitted, func(ctx context.Context, e event.Event) error {
		as := e.(domain.EventAnswerSubmitted)
		return s.UpdateLeaderboard(ctx, as.SessionID, as.Username, as.TotalScore)
	})

	s.eb.Subscribe(domain.EventNameScoreReverted, func(ctx context.Context, e event.Event) error {
		sr := e.(domain.EventScoreReverted)
		return s.UpdateLeaderboard(ctx, sr.SessionID, sr.Username, sr.TotalScore)
	})

	s.eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		return s.finalize(ctx, e.(domain.EventGameEnded))
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the standings of a session, best first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: session=%s", req.SessionID))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Username: z.Member.(string),
			Score:    int(z.Score),
		})
	}

	return &domain.Leaderboard{
		SessionID: req.SessionID,
		Entries:   entries,
	}, nil
}

// UpdateLeaderboard overwrites the user's total score.
func (s *Service) UpdateLeaderboard(ctx context.Context, session, username string, total int) error {
	key := s.getLeaderboardKey(session)

	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(total), Member: username})
		p.Expire(ctx, key, keyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, session)
}

// addPlayer lists a newcomer with zero points without touching an existing score.
func (s *Service) addPlayer(ctx context.Context, session, username string) error {
	err := s.redis.ZAddNX(ctx, s.getLeaderboardKey(session), redis.Z{Score: 0, Member: username}).Err()
	if err != nil {
		return fmt.Errorf("add player: %w", err)
	}

	return nil
}

// finalize writes every final score, so the board is exact even when some
// intermediate update was dropped, and publishes it right away.
func (s *Service) finalize(ctx context.Context, e domain.EventGameEnded) error {
	if len(e.Players) == 0 {
		return nil
	}

	key := s.getLeaderboardKey(e.SessionID)
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, pr := range e.Players {
			p.ZAdd(ctx, key, redis.Z{Score: float64(pr.Score), Member: pr.Username})
		}
		p.Expire(ctx, key, keyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("finalize leaderboard: %w", err)
	}

	return s.publishLeaderboard(ctx, e.SessionID)
}

// schedulePublishLeaderboard publishes at most one leaderboard update per
// interval and session. A burst of answers lands in a single update.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, session string) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(session), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, session)
}

func (s *Service) publishLeaderboard(ctx context.Context, session string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		SessionID: session,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", session, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getLeaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) getLeaderboardTimeKey(session string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, session)
}
