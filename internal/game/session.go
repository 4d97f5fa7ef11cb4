package game

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/broadcast"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/roundtimer"
)

type SessionConfig struct {
	Catalog  Catalog
	EventBus *event.Bus
	Clock    clockwork.Clock

	HostPolicy         player.HostPolicy
	TimeLimitStep      time.Duration
	MaxTimeLimitTier   int
	RequireHostToStart bool
	EventBuffer        int
}

// Session is the single quiz session of the process, wired to its loop.
type Session struct {
	loop   *Loop
	game   *Game
	router *Router
}

func NewSession(c SessionConfig) *Session {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	loop := NewLoop(c.EventBuffer)
	players := player.NewRegistry(c.HostPolicy)

	g := New(Config{
		Players:          players,
		Broadcaster:      broadcast.New(players),
		Timer:            roundtimer.New(c.Clock),
		Catalog:          c.Catalog,
		Clock:            c.Clock,
		EventBus:         c.EventBus,
		TimeLimitStep:    c.TimeLimitStep,
		MaxTimeLimitTier: c.MaxTimeLimitTier,
		Expire:           loop.Expire,
	})

	return &Session{
		loop:   loop,
		game:   g,
		router: NewRouter(g, WithHostOnlyStart(c.RequireHostToStart)),
	}
}

// Run processes session events until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.loop.Run(ctx, s.router)
}

// Deliver queues an inbound frame from conn.
func (s *Session) Deliver(ctx context.Context, conn domain.Conn, raw []byte) {
	s.loop.Deliver(ctx, conn, raw)
}

// Disconnect queues the departure of conn.
func (s *Session) Disconnect(ctx context.Context, conn domain.Conn) {
	s.loop.Disconnect(ctx, conn)
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	SessionID         string                `json:"session_id"`
	Status            domain.GameStatus     `json:"status"`
	QuizID            string                `json:"quiz_id,omitempty"`
	QuestionNumber    int                   `json:"question_number"`
	QuestionsPerRound int                   `json:"questions_per_round"`
	Players           []domain.PlayerResult `json:"players"`
}

// Snapshot copies the session state on the loop goroutine.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.loop.Do(ctx, func() {
		snap = Snapshot{
			SessionID:         s.game.SessionID(),
			Status:            s.game.Status(),
			QuizID:            s.game.QuizID(),
			QuestionNumber:    s.game.QuestionNumber(),
			QuestionsPerRound: s.game.QuestionsPerRound(),
			Players:           s.game.Players().Results(),
		}
	})

	return snap, err
}
