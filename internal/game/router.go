package game

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/roundtimer"
)

// Inbound actions.
const (
	ActionPlayerConnected    = "player_connected"
	ActionStartGame          = "start_game"
	ActionAnswerSubmit       = "answer_submit"
	ActionRoundExpired       = "round_expired"
	ActionResetGame          = "reset_game"
	ActionPlayerDisconnected = "player_disconnected"
)

// Event is one unit of work for the session loop.
type Event struct {
	Action  string
	Conn    domain.Conn
	Payload json.RawMessage
	Round   roundtimer.Handle

	// internal marks events raised by the server itself. Clients cannot forge them.
	internal bool
	call     func()
}

type envelope struct {
	Action string `json:"action"`
}

// ParseEvent decodes an inbound frame. The whole frame is kept as the payload.
func ParseEvent(conn domain.Conn, raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}

	if env.Action == "" {
		return Event{}, fmt.Errorf("envelope has no action")
	}

	return Event{
		Action:  env.Action,
		Conn:    conn,
		Payload: raw,
	}, nil
}

type Handler func(ctx context.Context, e Event)

type route struct {
	internal bool
	handle   Handler
}

// Router maps actions to handlers. The table is fixed at construction.
type Router struct {
	game        *Game
	requireHost bool
	routes      map[string]route
}

type RouterOption func(*Router)

// WithHostOnlyStart restricts start_game to the host.
func WithHostOnlyStart(v bool) RouterOption {
	return func(r *Router) {
		r.requireHost = v
	}
}

func NewRouter(g *Game, opts ...RouterOption) *Router {
	r := &Router{game: g}
	for _, opt := range opts {
		opt(r)
	}

	r.routes = map[string]route{
		ActionPlayerConnected:    {handle: r.playerConnected},
		ActionStartGame:          {handle: r.startGame},
		ActionAnswerSubmit:       {handle: r.answerSubmit},
		ActionResetGame:          {handle: r.resetGame},
		ActionRoundExpired:       {internal: true, handle: r.roundExpired},
		ActionPlayerDisconnected: {internal: true, handle: r.playerDisconnected},
	}

	return r
}

// Dispatch runs the handler for e. Unknown actions and client-sent internal
// actions are ignored.
func (r *Router) Dispatch(ctx context.Context, e Event) {
	rt, ok := r.routes[e.Action]
	if !ok {
		slog.DebugContext(ctx, "router: unknown action", "action", e.Action)
		return
	}

	if rt.internal && !e.internal {
		slog.WarnContext(ctx, "router: client sent internal action", "action", e.Action, "conn", connID(e.Conn))
		return
	}

	rt.handle(ctx, e)
}

type playerConnectedPayload struct {
	Username string `json:"username"`
	Icon     string `json:"icon"`
}

func (r *Router) playerConnected(ctx context.Context, e Event) {
	var p playerConnectedPayload
	if !decode(ctx, e, &p) {
		return
	}

	err := r.game.Join(ctx, e.Conn, p.Username, p.Icon)
	switch {
	case err == nil:
	case stderrors.Is(err, player.ErrDuplicateUsername):
		r.game.bc.SendTo(e.Conn, DuplicateUsername{Type: MessageDuplicateUsername})
		e.Conn.Close()
	default:
		r.game.bc.SendTo(e.Conn, errorMessage(err))
	}
}

type startGamePayload struct {
	Quiz              string  `json:"quiz"`
	NumberOfQuestions flexInt `json:"numberOfQuestions"`
	TimeLimit         flexInt `json:"timeLimit"`
}

func (r *Router) startGame(ctx context.Context, e Event) {
	if r.game.Status() != domain.GameStatusAwaitingStart {
		return
	}

	if r.requireHost {
		p, ok := r.game.players.ByConnection(connID(e.Conn))
		if !ok || !p.IsHost {
			r.game.bc.SendTo(e.Conn, errorMessage(errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("only the host can start the game"))))
			return
		}
	}

	var p startGamePayload
	if !decode(ctx, e, &p) {
		return
	}

	err := r.game.Start(ctx, StartRequest{
		Quiz:              p.Quiz,
		NumberOfQuestions: int(p.NumberOfQuestions),
		TimeLimit:         int(p.TimeLimit),
	})
	if err != nil {
		slog.WarnContext(ctx, "router: start game failed", "quiz", p.Quiz, "error", err)
		r.game.bc.SendTo(e.Conn, errorMessage(err))
	}
}

type answerSubmitPayload struct {
	Answer *flexInt `json:"answer"`
}

func (r *Router) answerSubmit(ctx context.Context, e Event) {
	if r.game.Status() != domain.GameStatusPlayersChoosing {
		return
	}

	var p answerSubmitPayload
	if !decode(ctx, e, &p) || p.Answer == nil {
		return
	}

	r.game.SubmitAnswer(ctx, e.Conn, int(*p.Answer))
}

func (r *Router) roundExpired(ctx context.Context, e Event) {
	r.game.OnRoundExpired(ctx, e.Round)
}

func (r *Router) resetGame(ctx context.Context, _ Event) {
	r.game.Reset(ctx)
}

func (r *Router) playerDisconnected(ctx context.Context, e Event) {
	r.game.Leave(ctx, e.Conn)
}

func decode(ctx context.Context, e Event, v any) bool {
	if len(e.Payload) == 0 {
		return true
	}

	if err := json.Unmarshal(e.Payload, v); err != nil {
		slog.DebugContext(ctx, "router: malformed payload", "action", e.Action, "error", err)
		return false
	}

	return true
}

func connID(c domain.Conn) string {
	if c == nil {
		return ""
	}
	return c.ID()
}

// flexInt accepts a JSON number or a numeric string. Browser forms post numbers as strings.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}

	if v, err := strconv.Atoi(string(b)); err == nil {
		*n = flexInt(v)
		return nil
	}

	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", b)
	}

	*n = flexInt(f)
	return nil
}
