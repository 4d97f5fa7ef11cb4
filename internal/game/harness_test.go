package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/broadcast"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/player"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/roundtimer"
)

// harness drives a Game through its Router on the test goroutine, standing in
// for the session loop.
type harness struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	bus     *event.Bus
	game    *Game
	router  *Router
	expired chan roundtimer.Handle
	conns   map[string]*fakeConn
	seq     int
}

type harnessOptions struct {
	policy      player.HostPolicy
	requireHost bool
	// failAfter makes the "flaky" quiz fail once this many questions were dealt.
	failAfter int
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()

	o := harnessOptions{policy: player.HostPolicyKeep, failAfter: 1}
	for _, opt := range opts {
		opt(&o)
	}

	catalog, err := quiz.LoadCatalog("",
		quiz.WithEntries(
			quiz.Entry{ID: "capitals", Name: "Capitals", Controller: "numbered"},
			quiz.Entry{ID: "flaky", Name: "Flaky", Controller: "flaky"},
		),
		quiz.WithFactory("numbered", func(map[string]any) (quiz.Source, error) {
			return &numberedSource{}, nil
		}),
		quiz.WithFactory("flaky", func(map[string]any) (quiz.Source, error) {
			return &numberedSource{failAfter: o.failAfter}, nil
		}),
	)
	require.NoError(t, err)

	h := &harness{
		t:       t,
		clock:   clockwork.NewFakeClock(),
		bus:     event.NewBus(),
		expired: make(chan roundtimer.Handle, 8),
		conns:   make(map[string]*fakeConn),
	}

	players := player.NewRegistry(o.policy)
	h.game = New(Config{
		Players:     players,
		Broadcaster: broadcast.New(players),
		Timer:       roundtimer.New(h.clock),
		Catalog:     catalog,
		Clock:       h.clock,
		EventBus:    h.bus,
		Expire:      func(r roundtimer.Handle) { h.expired <- r },
	})
	h.router = NewRouter(h.game, WithHostOnlyStart(o.requireHost))

	t.Cleanup(h.bus.Stop)
	return h
}

func (h *harness) send(conn *fakeConn, action string, fields map[string]any) {
	h.t.Helper()

	msg := map[string]any{"action": action}
	for k, v := range fields {
		msg[k] = v
	}

	raw, err := json.Marshal(msg)
	require.NoError(h.t, err)

	e, err := ParseEvent(conn, raw)
	require.NoError(h.t, err)

	h.router.Dispatch(context.Background(), e)
	h.checkInvariants()
}

// checkInvariants fails the test when a dispatch left the session inconsistent.
func (h *harness) checkInvariants() {
	h.t.Helper()

	for _, p := range h.game.players.All() {
		sum := 0
		for _, s := range p.RoundScores {
			sum += s
		}
		require.Equal(h.t, sum, p.Score, "score of %q is not the sum of its rounds %v", p.Username, p.RoundScores)
		require.LessOrEqual(h.t, len(p.RoundScores), h.game.QuestionNumber(), "%q scored on more questions than were dealt", p.Username)
	}

	if h.game.RoundHandle() != 0 {
		require.Equal(h.t, domain.GameStatusPlayersChoosing, h.game.Status(), "round timer outstanding outside a round")
		require.Positive(h.t, h.game.TimeLimit(), "round timer outstanding without a time limit")
	}

	hosts := 0
	for _, p := range h.game.players.All() {
		if p.IsHost {
			hosts++
		}
	}
	if len(h.game.players.All()) > 0 {
		require.Equal(h.t, 1, hosts, "exactly one host once anyone joined")
	}
}

func (h *harness) join(username string) *fakeConn {
	h.t.Helper()

	h.seq++
	c := newFakeConn(fmt.Sprintf("conn-%d", h.seq), 64)
	h.conns[username] = c
	h.send(c, ActionPlayerConnected, map[string]any{"username": username, "icon": "cat"})

	return c
}

func (h *harness) start(numberOfQuestions, timeLimit any) {
	h.t.Helper()

	h.send(h.hostConn(), ActionStartGame, map[string]any{
		"quiz":              "capitals",
		"numberOfQuestions": numberOfQuestions,
		"timeLimit":         timeLimit,
	})
}

func (h *harness) answer(username string, idx int) {
	h.t.Helper()
	h.send(h.conns[username], ActionAnswerSubmit, map[string]any{"answer": idx})
}

func (h *harness) leave(username string) {
	h.t.Helper()

	h.router.Dispatch(context.Background(), Event{
		Action:   ActionPlayerDisconnected,
		Conn:     h.conns[username],
		internal: true,
	})
	h.checkInvariants()
}

// expire advances the clock past the round deadline and delivers the expiry
// the timer produced.
func (h *harness) expire() roundtimer.Handle {
	h.t.Helper()

	h.clock.Advance(h.game.TimeLimit())

	select {
	case r := <-h.expired:
		h.deliverExpiry(r)
		return r
	case <-time.After(time.Second):
		h.t.Fatal("round timer did not fire")
		return 0
	}
}

func (h *harness) deliverExpiry(r roundtimer.Handle) {
	h.router.Dispatch(context.Background(), Event{
		Action:   ActionRoundExpired,
		Round:    r,
		internal: true,
	})
	h.checkInvariants()
}

func (h *harness) player(username string) *player.Player {
	h.t.Helper()

	p, ok := h.game.players.ByUsername(username)
	require.True(h.t, ok, "player %q not found", username)
	return p
}

func (h *harness) hostConn() *fakeConn {
	host := h.game.players.Host()
	require.NotNil(h.t, host)
	return h.conns[host.Username]
}

// numberedSource deals "q1", "q2", ... with option 0 correct.
type numberedSource struct {
	n         int
	failAfter int
}

func (s *numberedSource) Question() (domain.Question, error) {
	if s.failAfter > 0 && s.n >= s.failAfter {
		return domain.Question{}, fmt.Errorf("question bank unavailable")
	}

	s.n++
	return domain.Question{
		Text:               fmt.Sprintf("q%d", s.n),
		Options:            []string{"right", "wrong", "also wrong"},
		CorrectOptionIndex: 0,
	}, nil
}

type fakeConn struct {
	id       string
	capacity int

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeConn(id string, capacity int) *fakeConn {
	return &fakeConn{id: id, capacity: capacity}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || len(c.sent) >= c.capacity {
		return false
	}
	c.sent = append(c.sent, msg)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) messages() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) types() []string {
	var out []string
	for _, m := range c.messages() {
		out = append(out, m["type"].(string))
	}
	return out
}

// last returns the most recent message of type typ, or nil.
func (c *fakeConn) last(typ string) map[string]any {
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == typ {
			return msgs[i]
		}
	}
	return nil
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
