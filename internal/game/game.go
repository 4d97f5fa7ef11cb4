// Package game runs a quiz session: the state machine, the inbound action
// router and the loop that serializes every event touching session state.
package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/victornm/livequiz/internal/broadcast"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/roundtimer"
)

const (
	defaultTimeLimitStep    = 10 * time.Second
	defaultMaxTimeLimitTier = 3
)

type Catalog interface {
	List() []domain.QuizInfo
	NewSource(id string) (quiz.Source, error)
}

// Config wires a Game. Every field is optional: a nil collaborator is replaced
// by a fresh one, and a nil Catalog offers no quizzes.
type Config struct {
	Players     *player.Registry
	Broadcaster *broadcast.Broadcaster
	Timer       *roundtimer.Timer
	Catalog     Catalog
	Clock       clockwork.Clock
	EventBus    *event.Bus

	// TimeLimitStep is the length of one time limit tier.
	TimeLimitStep    time.Duration
	MaxTimeLimitTier int

	// Expire is handed to the round timer. It runs on the timer goroutine and
	// must only enqueue the expiry for the session loop.
	Expire func(roundtimer.Handle)
}

// Game is the session state machine. It is not safe for concurrent use; the
// session loop is its only caller.
type Game struct {
	players *player.Registry
	bc      *broadcast.Broadcaster
	timer   *roundtimer.Timer
	catalog Catalog
	clock   clockwork.Clock
	eb      *event.Bus
	step    time.Duration
	maxTier int
	expire  func(roundtimer.Handle)

	sessionID         string
	status            domain.GameStatus
	quizID            string
	source            quiz.Source
	questionsPerRound int
	timeLimit         time.Duration
	questionNumber    int
	question          domain.Question
	deadline          time.Time
	round             roundtimer.Handle
}

func New(c Config) *Game {
	g := &Game{
		players: c.Players,
		bc:      c.Broadcaster,
		timer:   c.Timer,
		catalog: c.Catalog,
		clock:   c.Clock,
		eb:      c.EventBus,
		step:    c.TimeLimitStep,
		maxTier: c.MaxTimeLimitTier,
		expire:  c.Expire,
		status:  domain.GameStatusAwaitingStart,
	}

	if g.catalog == nil {
		// An empty catalog has no entries to reject.
		g.catalog, _ = quiz.LoadCatalog("")
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	if g.players == nil {
		g.players = player.NewRegistry(player.HostPolicyKeep)
	}
	if g.bc == nil {
		g.bc = broadcast.New(g.players)
	}
	if g.timer == nil {
		g.timer = roundtimer.New(g.clock)
	}
	if g.eb == nil {
		g.eb = event.NewBus()
	}
	if g.step <= 0 {
		g.step = defaultTimeLimitStep
	}
	if g.maxTier <= 0 {
		g.maxTier = defaultMaxTimeLimitTier
	}
	if g.expire == nil {
		g.expire = func(roundtimer.Handle) {}
	}

	g.sessionID = newSessionID()
	return g
}

func (g *Game) SessionID() string                { return g.sessionID }
func (g *Game) Status() domain.GameStatus        { return g.status }
func (g *Game) QuizID() string                   { return g.quizID }
func (g *Game) QuestionsPerRound() int           { return g.questionsPerRound }
func (g *Game) TimeLimit() time.Duration         { return g.timeLimit }
func (g *Game) QuestionNumber() int              { return g.questionNumber }
func (g *Game) CurrentQuestion() domain.Question { return g.question }
func (g *Game) Deadline() time.Time              { return g.deadline }
func (g *Game) Players() *player.Registry        { return g.players }

// RoundHandle is the handle of the outstanding round deadline, or zero.
func (g *Game) RoundHandle() roundtimer.Handle { return g.round }

type StartRequest struct {
	Quiz              string
	NumberOfQuestions int
	// TimeLimit is a tier: 0 is unlimited, each step adds TimeLimitStep.
	TimeLimit int
}

// Start configures the game and deals the first question. It is a no-op
// unless the game is awaiting start. On error the game stays awaiting start.
func (g *Game) Start(ctx context.Context, req StartRequest) error {
	if g.status != domain.GameStatusAwaitingStart {
		return nil
	}

	if req.NumberOfQuestions < 1 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("number of questions must be at least 1, got %d", req.NumberOfQuestions))
	}

	src, err := g.catalog.NewSource(req.Quiz)
	if err != nil {
		return err
	}

	tier := min(max(req.TimeLimit, 0), g.maxTier)

	g.quizID = req.Quiz
	g.source = src
	g.questionsPerRound = req.NumberOfQuestions
	g.timeLimit = time.Duration(tier) * g.step
	g.questionNumber = 0
	g.status = domain.GameStatusPlayersChoosing

	slog.InfoContext(ctx, "game: started",
		"session", g.sessionID,
		"quiz", g.quizID,
		"questions", g.questionsPerRound,
		"time_limit", g.timeLimit,
	)

	g.eb.Publish(ctx, domain.EventGameStarted{
		SessionID: g.sessionID,
		QuizID:    g.quizID,
		Questions: g.questionsPerRound,
		TimeLimit: g.timeLimit,
	})

	g.advanceRound(ctx)
	return nil
}

// Join binds a connection to a player and brings it up to date.
func (g *Game) Join(ctx context.Context, conn domain.Conn, username, icon string) error {
	p, reconnected, err := g.players.ConnectOrReconnect(username, icon, conn)
	if err != nil {
		return err
	}

	// Late joiners may still answer the open question.
	if g.status == domain.GameStatusPlayersChoosing && !p.HasAnswered(g.questionNumber) {
		p.Status = domain.PlayerStatusInPlay
	}

	g.bc.SendTo(conn, g.connectedGameStatus())
	if g.status == domain.GameStatusPlayersChoosing {
		g.bc.SendTo(conn, g.roundStart())
	}

	g.bc.SendToAll(PlayerConnected{
		Type:       MessagePlayerConnected,
		PlayerName: p.Username,
		Host:       p.IsHost,
		Players:    viewsOf(g.players.ActivePlayers()),
	})

	slog.InfoContext(ctx, "game: player connected",
		"session", g.sessionID,
		"username", p.Username,
		"reconnected", reconnected,
	)

	g.eb.Publish(ctx, domain.EventPlayerConnected{
		SessionID:   g.sessionID,
		Username:    p.Username,
		Reconnected: reconnected,
	})

	return nil
}

// SubmitAnswer scores the answer of the player behind conn. Answers outside
// an open round, from unknown connections, or repeated for the same question
// are ignored.
func (g *Game) SubmitAnswer(ctx context.Context, conn domain.Conn, answer int) {
	if g.status != domain.GameStatusPlayersChoosing {
		return
	}

	p, ok := g.players.ByConnection(conn.ID())
	if !ok || !p.IsActive || p.HasAnswered(g.questionNumber) {
		return
	}

	correct := answer == g.question.CorrectOptionIndex
	p.RecordAnswer(g.questionNumber, correct)

	g.bc.SendToAll(PlayerSubmitted{
		Type:       MessagePlayerSubmitted,
		PlayerName: p.Username,
		Players:    viewsOf(g.players.ActivePlayers()),
	})

	g.eb.Publish(ctx, domain.EventAnswerSubmitted{
		SessionID:      g.sessionID,
		Username:       p.Username,
		QuestionNumber: g.questionNumber,
		Correct:        correct,
		TotalScore:     p.Score,
		SubmitTime:     g.clock.Now(),
	})

	if g.players.AllActiveIn(domain.PlayerStatusAnswerChosen) {
		g.advanceRound(ctx)
	}
}

// OnRoundExpired advances the game when h is the outstanding round deadline.
// Stale or forged expiries are dropped.
func (g *Game) OnRoundExpired(ctx context.Context, h roundtimer.Handle) {
	if g.status != domain.GameStatusPlayersChoosing || h != g.round || !g.timer.Current(h) {
		slog.DebugContext(ctx, "game: ignoring stale round expiry", "handle", h, "current", g.round)
		return
	}

	g.advanceRound(ctx)
}

// Leave marks the player behind conn as gone. Points scored on the open
// question are taken back, and the round advances if everyone left has
// already answered.
func (g *Game) Leave(ctx context.Context, conn domain.Conn) {
	p, ok := g.players.ByConnection(conn.ID())
	if !ok {
		return
	}
	wasHost := p.IsHost

	open := 0
	if g.status == domain.GameStatusPlayersChoosing {
		open = g.questionNumber
	}

	d, _ := g.players.Disconnect(conn.ID(), open)

	g.bc.SendToAll(PlayerDisconnected{
		Type:       MessagePlayerDisconnected,
		PlayerName: p.Username,
		Host:       wasHost,
		Players:    viewsOf(g.players.ActivePlayers()),
	})

	if d.NewHost != nil {
		g.bc.SendToHost(HostAssigned{
			Type:       MessageHostAssigned,
			PlayerName: d.NewHost.Username,
		})
	}

	slog.InfoContext(ctx, "game: player disconnected",
		"session", g.sessionID,
		"username", p.Username,
		"reverted", d.Reverted,
	)

	if d.Reverted {
		g.eb.Publish(ctx, domain.EventScoreReverted{
			SessionID:      g.sessionID,
			Username:       p.Username,
			QuestionNumber: open,
			TotalScore:     p.Score,
		})
	}

	g.eb.Publish(ctx, domain.EventPlayerDisconnected{
		SessionID: g.sessionID,
		Username:  p.Username,
	})

	if g.status == domain.GameStatusPlayersChoosing && g.players.AllActiveIn(domain.PlayerStatusAnswerChosen) {
		g.advanceRound(ctx)
	}
}

// Reset returns the session to awaiting start under a new session id. Players
// are kept with their scores cleared.
func (g *Game) Reset(ctx context.Context) {
	g.cancelRound()

	old := g.sessionID
	g.sessionID = newSessionID()
	g.status = domain.GameStatusAwaitingStart
	g.quizID = ""
	g.source = nil
	g.questionsPerRound = 0
	g.timeLimit = 0
	g.questionNumber = 0
	g.question = domain.Question{}
	g.deadline = time.Time{}

	g.players.Reset()

	msg := g.connectedGameStatus()
	for _, p := range g.players.ActivePlayers() {
		g.bc.SendTo(p.Conn(), msg)
	}

	slog.InfoContext(ctx, "game: reset", "session", g.sessionID, "previous_session", old)

	g.eb.Publish(ctx, domain.EventGameReset{
		SessionID:    old,
		NewSessionID: g.sessionID,
	})
}

func (g *Game) advanceRound(ctx context.Context) {
	g.cancelRound()

	if g.questionNumber >= g.questionsPerRound {
		g.end(ctx)
		return
	}

	q, err := g.source.Question()
	if err != nil {
		slog.ErrorContext(ctx, "game: fetch question failed, ending game",
			"session", g.sessionID,
			"quiz", g.quizID,
			"error", err,
		)
		g.end(ctx)
		return
	}

	g.players.SetAllActiveStatus(domain.PlayerStatusInPlay)
	g.questionNumber++
	g.question = q
	g.deadline = g.clock.Now().Add(g.timeLimit)

	if g.timeLimit > 0 {
		g.round = g.timer.Schedule(g.timeLimit, g.expire)
	}

	g.bc.SendToAll(g.roundStart())

	g.eb.Publish(ctx, domain.EventRoundStarted{
		SessionID:      g.sessionID,
		QuestionNumber: g.questionNumber,
		Question:       q,
		Deadline:       g.deadline,
		ActivePlayers:  len(g.players.ActivePlayers()),
	})
}

func (g *Game) end(ctx context.Context) {
	g.cancelRound()
	g.status = domain.GameStatusGameEnded

	g.bc.SendToAll(GameEnd{
		Type:    MessageGameEnd,
		Players: viewsOf(g.players.All()),
	})

	slog.InfoContext(ctx, "game: ended", "session", g.sessionID, "questions", g.questionNumber)

	g.eb.Publish(ctx, domain.EventGameEnded{
		SessionID: g.sessionID,
		QuizID:    g.quizID,
		Questions: g.questionNumber,
		Players:   g.players.Results(),
		EndTime:   g.clock.Now(),
	})
}

func (g *Game) cancelRound() {
	g.timer.Cancel(g.round)
	g.round = 0
}

func (g *Game) roundStart() RoundStart {
	return RoundStart{
		Type: MessageRoundStart,
		Question: QuestionView{
			Text:    g.question.Text,
			Options: g.question.Options,
		},
		QuestionNumber:  g.questionNumber,
		RoundTime:       int(g.timeLimit / time.Second),
		RoundEndTimeUTC: g.deadline.Unix(),
		Players:         viewsOf(g.players.ActivePlayers()),
	}
}

func (g *Game) connectedGameStatus() ConnectedGameStatus {
	msg := ConnectedGameStatus{
		Type:        MessageConnectedGameStatus,
		GameStatus:  g.status,
		QuizOptions: g.catalog.List(),
	}

	if h := g.players.Host(); h != nil {
		v := viewOf(h)
		msg.Host = &v
	}

	return msg
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
