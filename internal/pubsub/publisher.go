// Package pubsub relays session progress to redis channels for spectators and
// companion apps.
//
// Channels:
//
//	<prefix>:session:<session id>   round starts, leaderboard updates, game end, reset
//	<prefix>:user:<username>        leaderboard updates and final results
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

const maxConcurrent = 100

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	EventBus *event.Bus
	Redis    Redis
	Prefix   string
}

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	RoundStarted struct {
		SessionID      string    `json:"session_id"`
		QuestionNumber int       `json:"question_number"`
		Question       string    `json:"question"`
		Options        []string  `json:"options"`
		Deadline       time.Time `json:"deadline"`
		ActivePlayers  int       `json:"active_players"`
	}

	GameEnded struct {
		SessionID string                `json:"session_id"`
		QuizID    string                `json:"quiz_id"`
		Questions int                   `json:"questions"`
		Players   []domain.PlayerResult `json:"players"`
		EndTime   time.Time             `json:"end_time"`
	}

	GameReset struct {
		SessionID    string `json:"session_id"`
		NewSessionID string `json:"new_session_id"`
	}
)

type Publisher struct {
	redis  Redis
	prefix string
}

func New(c Config) *Publisher {
	p := &Publisher{
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	c.EventBus.Subscribe(domain.EventNameRoundStarted, func(ctx context.Context, e event.Event) error {
		return p.PublishRoundStarted(ctx, e.(domain.EventRoundStarted))
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return p.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	c.EventBus.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		return p.PublishGameEnded(ctx, e.(domain.EventGameEnded))
	})
	c.EventBus.Subscribe(domain.EventNameGameReset, func(ctx context.Context, e event.Event) error {
		return p.PublishGameReset(ctx, e.(domain.EventGameReset))
	})

	return p
}

// PublishRoundStarted announces a new question. The correct option is never published.
func (p *Publisher) PublishRoundStarted(ctx context.Context, e domain.EventRoundStarted) error {
	return p.publish(ctx, p.SessionChannel(e.SessionID), e.Name(), RoundStarted{
		SessionID:      e.SessionID,
		QuestionNumber: e.QuestionNumber,
		Question:       e.Question.Text,
		Options:        e.Question.Options,
		Deadline:       e.Deadline,
		ActivePlayers:  e.ActivePlayers,
	})
}

func (p *Publisher) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return p.publish(ctx, p.SessionChannel(l.SessionID), e.Name(), l)
	})

	for _, entry := range l.Entries {
		eg.Go(func() error {
			return p.publish(ctx, p.UserChannel(entry.Username), e.Name(), l)
		})
	}

	return eg.Wait()
}

func (p *Publisher) PublishGameEnded(ctx context.Context, e domain.EventGameEnded) error {
	data := GameEnded{
		SessionID: e.SessionID,
		QuizID:    e.QuizID,
		Questions: e.Questions,
		Players:   e.Players,
		EndTime:   e.EndTime,
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return p.publish(ctx, p.SessionChannel(e.SessionID), e.Name(), data)
	})

	for _, pr := range e.Players {
		eg.Go(func() error {
			return p.publish(ctx, p.UserChannel(pr.Username), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (p *Publisher) PublishGameReset(ctx context.Context, e domain.EventGameReset) error {
	return p.publish(ctx, p.SessionChannel(e.SessionID), e.Name(), GameReset{
		SessionID:    e.SessionID,
		NewSessionID: e.NewSessionID,
	})
}

func (p *Publisher) SessionChannel(session string) string {
	return fmt.Sprintf("%s:session:%s", p.prefix, session)
}

func (p *Publisher) UserChannel(user string) string {
	return fmt.Sprintf("%s:user:%s", p.prefix, user)
}

func (p *Publisher) publish(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return p.redis.Publish(ctx, channel, b).Err()
}
