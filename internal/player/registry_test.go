package player_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/player"
)

func TestRegistry_ConnectOrReconnect(t *testing.T) {
	tests := map[string]struct {
		arrange func(r *player.Registry)
		assert  func(t *testing.T, r *player.Registry)
	}{
		"the first player to join should become host": {
			arrange: func(r *player.Registry) {
				mustConnect(r, "alice", "c1")
				mustConnect(r, "bob", "c2")
			},

			assert: func(t *testing.T, r *player.Registry) {
				require.Equal(t, "alice", r.Host().Username)
				bob, _ := r.ByUsername("bob")
				require.False(t, bob.IsHost)
				require.Equal(t, domain.PlayerStatusConnected, bob.Status)
			},
		},

		"a username held by an active player should be rejected": {
			arrange: func(r *player.Registry) {
				mustConnect(r, "alice", "c1")
			},

			assert: func(t *testing.T, r *player.Registry) {
				_, _, err := r.ConnectOrReconnect("alice", "", conn("c2"))
				require.ErrorIs(t, err, player.ErrDuplicateUsername)
				require.True(t, errors.HasCode(err, errors.CodeAlreadyExists))
				require.Len(t, r.All(), 1)

				_, bound := r.ByConnection("c2")
				require.False(t, bound)
			},
		},

		"a bound connection joining under another username should be rejected": {
			arrange: func(r *player.Registry) {
				mustConnect(r, "alice", "c1")
				mustConnect(r, "bob", "c2")
			},

			assert: func(t *testing.T, r *player.Registry) {
				_, _, err := r.ConnectOrReconnect("robert", "", conn("c2"))
				require.ErrorIs(t, err, player.ErrAlreadyJoined)
				require.True(t, errors.HasCode(err, errors.CodeFailedPrecondition))
				require.Len(t, r.ActivePlayers(), 2)

				_, ok := r.ByUsername("robert")
				require.False(t, ok)

				d, ok := r.Disconnect("c2", 0)
				require.True(t, ok)
				require.Equal(t, "bob", d.Player.Username)
				require.False(t, d.Player.IsActive)
				require.Len(t, r.ActivePlayers(), 1)
			},
		},

		"a bound connection repeating its own username should keep its player": {
			arrange: func(r *player.Registry) {
				mustConnect(r, "alice", "c1")
			},

			assert: func(t *testing.T, r *player.Registry) {
				_, _, err := r.ConnectOrReconnect("alice", "", conn("c1"))
				require.ErrorIs(t, err, player.ErrAlreadyJoined)

				p, ok := r.ByConnection("c1")
				require.True(t, ok)
				require.Equal(t, "alice", p.Username)
				require.True(t, p.IsActive)
				require.Len(t, r.All(), 1)
			},
		},

		"an empty username should be rejected": {
			arrange: func(r *player.Registry) {},

			assert: func(t *testing.T, r *player.Registry) {
				_, _, err := r.ConnectOrReconnect("  ", "", conn("c1"))
				require.True(t, errors.HasCode(err, errors.CodeInvalidArgument))
				require.Empty(t, r.All())
			},
		},

		"reconnecting should restore score history and host flag on the new connection": {
			arrange: func(r *player.Registry) {
				alice := mustConnect(r, "alice", "c1")
				alice.RecordAnswer(1, true)
				alice.RecordAnswer(2, false)
				r.Disconnect("c1", 0)
			},

			assert: func(t *testing.T, r *player.Registry) {
				p, reconnected, err := r.ConnectOrReconnect("alice", "", conn("c9"))
				require.NoError(t, err)
				require.True(t, reconnected)
				require.True(t, p.IsActive)
				require.True(t, p.IsHost)
				require.Equal(t, 1, p.Score)
				require.Equal(t, []int{1, 0}, p.RoundScores)
				require.Equal(t, domain.PlayerStatusConnected, p.Status)
				require.Equal(t, "c9", p.Conn().ID())

				byConn, ok := r.ByConnection("c9")
				require.True(t, ok)
				require.Same(t, p, byConn)
				require.Len(t, r.All(), 1)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r := player.NewRegistry(player.HostPolicyKeep)
			tt.arrange(r)
			tt.assert(t, r)
		})
	}
}

func TestRegistry_Disconnect(t *testing.T) {
	tests := map[string]struct {
		policy  player.HostPolicy
		arrange func(r *player.Registry) player.Disconnection
		assert  func(t *testing.T, r *player.Registry, d player.Disconnection)
	}{
		"a player scored on the open question should lose those points": {
			arrange: func(r *player.Registry) player.Disconnection {
				p := mustConnect(r, "alice", "c1")
				p.RecordAnswer(1, true)
				p.RecordAnswer(2, true)
				d, _ := r.Disconnect("c1", 2)
				return d
			},

			assert: func(t *testing.T, r *player.Registry, d player.Disconnection) {
				require.True(t, d.Reverted)
				require.Equal(t, 1, d.Player.Score)
				require.Equal(t, []int{1}, d.Player.RoundScores)
				require.False(t, d.Player.IsActive)
				require.Equal(t, domain.PlayerStatusDisconnected, d.Player.Status)
			},
		},

		"a player who has not answered the open question should keep every point": {
			arrange: func(r *player.Registry) player.Disconnection {
				p := mustConnect(r, "alice", "c1")
				p.RecordAnswer(1, true)
				d, _ := r.Disconnect("c1", 2)
				return d
			},

			assert: func(t *testing.T, r *player.Registry, d player.Disconnection) {
				require.False(t, d.Reverted)
				require.Equal(t, 1, d.Player.Score)
				require.Equal(t, []int{1}, d.Player.RoundScores)
			},
		},

		"no points should be taken back when no round is open": {
			arrange: func(r *player.Registry) player.Disconnection {
				p := mustConnect(r, "alice", "c1")
				p.RecordAnswer(1, true)
				d, _ := r.Disconnect("c1", 0)
				return d
			},

			assert: func(t *testing.T, r *player.Registry, d player.Disconnection) {
				require.False(t, d.Reverted)
				require.Equal(t, 1, d.Player.Score)
			},
		},

		"keep policy should leave the host flag on the departed player": {
			policy: player.HostPolicyKeep,
			arrange: func(r *player.Registry) player.Disconnection {
				mustConnect(r, "alice", "c1")
				mustConnect(r, "bob", "c2")
				d, _ := r.Disconnect("c1", 0)
				return d
			},

			assert: func(t *testing.T, r *player.Registry, d player.Disconnection) {
				require.Nil(t, d.NewHost)
				require.Equal(t, "alice", r.Host().Username)
			},
		},

		"promote policy should hand the host flag to the earliest active player": {
			policy: player.HostPolicyPromote,
			arrange: func(r *player.Registry) player.Disconnection {
				mustConnect(r, "alice", "c1")
				mustConnect(r, "bob", "c2")
				mustConnect(r, "carol", "c3")
				d, _ := r.Disconnect("c1", 0)
				return d
			},

			assert: func(t *testing.T, r *player.Registry, d player.Disconnection) {
				require.NotNil(t, d.NewHost)
				require.Equal(t, "bob", d.NewHost.Username)
				require.Equal(t, "bob", r.Host().Username)

				hosts := 0
				for _, p := range r.All() {
					if p.IsHost {
						hosts++
					}
				}
				require.Equal(t, 1, hosts)
			},
		},

		"promote policy with nobody left should keep the flag where it is": {
			policy: player.HostPolicyPromote,
			arrange: func(r *player.Registry) player.Disconnection {
				mustConnect(r, "alice", "c1")
				d, _ := r.Disconnect("c1", 0)
				return d
			},

			assert: func(t *testing.T, r *player.Registry, d player.Disconnection) {
				require.Nil(t, d.NewHost)
				require.Equal(t, "alice", r.Host().Username)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r := player.NewRegistry(tt.policy)
			d := tt.arrange(r)
			tt.assert(t, r, d)
		})
	}
}

func TestRegistry_DisconnectUnknownConnection(t *testing.T) {
	r := player.NewRegistry(player.HostPolicyKeep)
	mustConnect(r, "alice", "c1")

	_, ok := r.Disconnect("nope", 1)
	require.False(t, ok)
	require.Len(t, r.ActivePlayers(), 1)
}

func TestRegistry_AllActiveIn(t *testing.T) {
	r := player.NewRegistry(player.HostPolicyKeep)
	require.False(t, r.AllActiveIn(domain.PlayerStatusAnswerChosen), "an empty roster is never all answered")

	alice := mustConnect(r, "alice", "c1")
	mustConnect(r, "bob", "c2")
	r.SetAllActiveStatus(domain.PlayerStatusInPlay)

	alice.RecordAnswer(1, true)
	require.False(t, r.AllActiveIn(domain.PlayerStatusAnswerChosen))

	r.Disconnect("c2", 1)
	require.True(t, r.AllActiveIn(domain.PlayerStatusAnswerChosen), "inactive players are not waited for")
}

func TestRegistry_Reset(t *testing.T) {
	r := player.NewRegistry(player.HostPolicyKeep)
	alice := mustConnect(r, "alice", "c1")
	bob := mustConnect(r, "bob", "c2")
	alice.RecordAnswer(1, true)
	bob.RecordAnswer(1, true)
	r.Disconnect("c2", 0)

	r.Reset()

	for _, p := range r.All() {
		assert.Zero(t, p.Score, p.Username)
		assert.Empty(t, p.RoundScores, p.Username)
		assert.False(t, p.HasAnswered(1), p.Username)
	}
	require.Equal(t, domain.PlayerStatusConnected, alice.Status)
	require.Equal(t, domain.PlayerStatusDisconnected, bob.Status)
	require.True(t, alice.IsHost)
}

func TestPlayer_RecordAnswerOnce(t *testing.T) {
	r := player.NewRegistry(player.HostPolicyKeep)
	p := mustConnect(r, "alice", "c1")

	p.RecordAnswer(1, true)
	p.RecordAnswer(1, true)

	require.Equal(t, 1, p.Score)
	require.Equal(t, []int{1}, p.RoundScores)
	require.Equal(t, domain.PlayerStatusAnswerChosen, p.Status)
}

func TestParseHostPolicy(t *testing.T) {
	p, err := player.ParseHostPolicy("")
	require.NoError(t, err)
	require.Equal(t, player.HostPolicyKeep, p)

	p, err = player.ParseHostPolicy("Promote")
	require.NoError(t, err)
	require.Equal(t, player.HostPolicyPromote, p)

	_, err = player.ParseHostPolicy("random")
	require.Error(t, err)
}

func mustConnect(r *player.Registry, username, connID string) *player.Player {
	p, _, err := r.ConnectOrReconnect(username, "", conn(connID))
	if err != nil {
		panic(err)
	}
	return p
}

type conn string

func (c conn) ID() string         { return string(c) }
func (c conn) Send(_ []byte) bool { return true }
func (c conn) Close()             {}
