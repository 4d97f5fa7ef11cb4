// Package player keeps the session roster and reconciles player identity
// across reconnects.
package player

import (
	"fmt"
	"strings"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// HostPolicy decides what happens to the host flag when the host disconnects.
type HostPolicy string

const (
	// HostPolicyKeep leaves the flag on the departed player; it comes back with them.
	HostPolicyKeep HostPolicy = "keep"
	// HostPolicyPromote hands the flag to the earliest joined active player.
	HostPolicyPromote HostPolicy = "promote"
)

func ParseHostPolicy(s string) (HostPolicy, error) {
	switch p := HostPolicy(strings.ToLower(s)); p {
	case "", HostPolicyKeep:
		return HostPolicyKeep, nil
	case HostPolicyPromote:
		return p, nil
	default:
		return "", fmt.Errorf("unknown host policy %q", s)
	}
}

var (
	ErrDuplicateUsername = errors.New(errors.CodeAlreadyExists, errors.WithMessagef("username is already taken"))
	// ErrAlreadyJoined rejects a second join from a connection that is already bound to a player.
	ErrAlreadyJoined = errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("connection has already joined the game"))
)

type Registry struct {
	policy  HostPolicy
	players []*Player
	byName  map[string]*Player
	byConn  map[string]*Player
}

func NewRegistry(policy HostPolicy) *Registry {
	if policy == "" {
		policy = HostPolicyKeep
	}

	return &Registry{
		policy: policy,
		byName: make(map[string]*Player),
		byConn: make(map[string]*Player),
	}
}

// ConnectOrReconnect binds conn to username. An inactive player with that
// username is reactivated with its score, history and host flag intact. A
// connection binds to at most one player.
func (r *Registry) ConnectOrReconnect(username, icon string, conn domain.Conn) (p *Player, reconnected bool, err error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, false, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("username must not be empty"))
	}

	if _, bound := r.byConn[conn.ID()]; bound {
		return nil, false, ErrAlreadyJoined
	}

	if p, ok := r.byName[username]; ok {
		if p.IsActive {
			return nil, false, ErrDuplicateUsername
		}

		if p.conn != nil {
			delete(r.byConn, p.conn.ID())
		}
		p.conn = conn
		p.IsActive = true
		p.Status = domain.PlayerStatusConnected
		if icon != "" {
			p.Icon = icon
		}
		r.byConn[conn.ID()] = p

		return p, true, nil
	}

	p = &Player{
		Username: username,
		Icon:     icon,
		IsHost:   len(r.players) == 0,
		IsActive: true,
		Status:   domain.PlayerStatusConnected,
		conn:     conn,
	}

	r.players = append(r.players, p)
	r.byName[username] = p
	r.byConn[conn.ID()] = p

	return p, false, nil
}

// Disconnection describes what a disconnect changed.
type Disconnection struct {
	Player *Player
	// Reverted is true when the points of the open question were taken back.
	Reverted bool
	// NewHost is set when the host flag moved to another player.
	NewHost *Player
}

// Disconnect marks the player bound to connID inactive. openQuestion is the
// number of the question currently open for answers, or zero when no round is
// open; a player already scored on it loses those points. The second return
// value is false when no player is bound to connID.
func (r *Registry) Disconnect(connID string, openQuestion int) (Disconnection, bool) {
	p, ok := r.byConn[connID]
	if !ok {
		return Disconnection{}, false
	}

	delete(r.byConn, connID)
	p.IsActive = false
	p.Status = domain.PlayerStatusDisconnected

	d := Disconnection{Player: p}
	if openQuestion > 0 {
		d.Reverted = p.revert(openQuestion)
	}

	if p.IsHost && r.policy == HostPolicyPromote {
		if next := r.firstActive(); next != nil {
			p.IsHost = false
			next.IsHost = true
			d.NewHost = next
		}
	}

	return d, true
}

// ActivePlayers returns the active players in join order.
func (r *Registry) ActivePlayers() []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		if p.IsActive {
			out = append(out, p)
		}
	}

	return out
}

// All returns every player ever seen, in join order.
func (r *Registry) All() []*Player {
	return append([]*Player(nil), r.players...)
}

func (r *Registry) ByConnection(id string) (*Player, bool) {
	p, ok := r.byConn[id]
	return p, ok
}

func (r *Registry) ByUsername(name string) (*Player, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Host returns the player holding the host flag, or nil before anyone joined.
func (r *Registry) Host() *Player {
	for _, p := range r.players {
		if p.IsHost {
			return p
		}
	}

	return nil
}

func (r *Registry) SetAllActiveStatus(s domain.PlayerStatus) {
	for _, p := range r.players {
		if p.IsActive {
			p.Status = s
		}
	}
}

// AllActiveIn reports whether there is at least one active player and every
// active player has status s.
func (r *Registry) AllActiveIn(s domain.PlayerStatus) bool {
	n := 0
	for _, p := range r.players {
		if !p.IsActive {
			continue
		}
		if p.Status != s {
			return false
		}
		n++
	}

	return n > 0
}

// Reset clears every score for a new game. Active players go back to CONNECTED.
func (r *Registry) Reset() {
	for _, p := range r.players {
		p.Score = 0
		p.RoundScores = nil
		p.answeredQuestion = 0
		if p.IsActive {
			p.Status = domain.PlayerStatusConnected
		}
	}
}

// Results snapshots every player for reporting.
func (r *Registry) Results() []domain.PlayerResult {
	out := make([]domain.PlayerResult, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.Result())
	}

	return out
}

func (r *Registry) firstActive() *Player {
	for _, p := range r.players {
		if p.IsActive {
			return p
		}
	}

	return nil
}
