package player

import (
	"github.com/victornm/livequiz/internal/domain"
)

// Player is a roster entry. It is never removed once created: a disconnect only
// marks it inactive so a reconnect under the same username gets it back.
type Player struct {
	Username    string
	Icon        string
	IsHost      bool
	IsActive    bool
	Status      domain.PlayerStatus
	Score       int
	RoundScores []int

	// answeredQuestion is the number of the last question this player was scored on.
	answeredQuestion int
	conn             domain.Conn
}

func (p *Player) Conn() domain.Conn {
	return p.conn
}

// HasAnswered reports whether the player was already scored on question n.
func (p *Player) HasAnswered(n int) bool {
	return n > 0 && p.answeredQuestion == n
}

// RecordAnswer scores the player for question n. It is a no-op when the
// question was already answered.
func (p *Player) RecordAnswer(n int, correct bool) {
	if p.HasAnswered(n) {
		return
	}

	points := 0
	if correct {
		points = 1
	}

	p.RoundScores = append(p.RoundScores, points)
	p.Score += points
	p.answeredQuestion = n
	p.Status = domain.PlayerStatusAnswerChosen
}

// revert takes back the points of question n, if the player was scored on it.
func (p *Player) revert(n int) bool {
	if !p.HasAnswered(n) || len(p.RoundScores) == 0 {
		return false
	}

	last := len(p.RoundScores) - 1
	p.Score -= p.RoundScores[last]
	p.RoundScores = p.RoundScores[:last]
	p.answeredQuestion = 0

	return true
}

func (p *Player) Result() domain.PlayerResult {
	return domain.PlayerResult{
		Username:    p.Username,
		Host:        p.IsHost,
		Active:      p.IsActive,
		Score:       p.Score,
		RoundScores: append([]int(nil), p.RoundScores...),
	}
}
