// Package broadcast fans session messages out to player connections.
//
// Delivery is best effort: a connection whose send buffer is full is closed
// and the fan-out carries on with the next one.
package broadcast

import (
	"encoding/json"
	"log/slog"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/player"
)

type Roster interface {
	ActivePlayers() []*player.Player
	Host() *player.Player
}

type Broadcaster struct {
	roster Roster
}

func New(roster Roster) *Broadcaster {
	return &Broadcaster{roster: roster}
}

// SendTo delivers msg to a single connection.
func (b *Broadcaster) SendTo(conn domain.Conn, msg any) {
	if conn == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("broadcast: marshal message failed", "error", err)
		return
	}

	b.send(conn, data)
}

// SendToAll delivers msg to every active player.
func (b *Broadcaster) SendToAll(msg any) {
	players := b.roster.ActivePlayers()
	if len(players) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("broadcast: marshal message failed", "error", err)
		return
	}

	for _, p := range players {
		b.send(p.Conn(), data)
	}
}

// SendToHost delivers msg to the host, if the host is connected.
func (b *Broadcaster) SendToHost(msg any) {
	h := b.roster.Host()
	if h == nil || !h.IsActive {
		return
	}

	b.SendTo(h.Conn(), msg)
}

func (b *Broadcaster) send(conn domain.Conn, data []byte) {
	if conn == nil {
		return
	}

	if !conn.Send(data) {
		slog.Warn("broadcast: send buffer full, closing connection", "conn", conn.ID())
		conn.Close()
	}
}
