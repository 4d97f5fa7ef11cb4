package domain

import (
	"fmt"
)

// GameStatus is the session status. The numeric values are part of the wire format.
type GameStatus int

const (
	GameStatusAwaitingStart   GameStatus = 0
	GameStatusPlayersChoosing GameStatus = 1
	GameStatusGameEnded       GameStatus = 4
)

func (s GameStatus) String() string {
	switch s {
	case GameStatusAwaitingStart:
		return "awaiting_start"
	case GameStatusPlayersChoosing:
		return "players_choosing"
	case GameStatusGameEnded:
		return "game_ended"
	default:
		return fmt.Sprintf("GameStatus(%d)", int(s))
	}
}

// PlayerStatus values are shown verbatim by the browser client.
type PlayerStatus string

const (
	PlayerStatusConnected    PlayerStatus = "Connected"
	PlayerStatusInPlay       PlayerStatus = "Thinking..."
	PlayerStatusAnswerChosen PlayerStatus = "Answer submitted"
	PlayerStatusDisconnected PlayerStatus = "Disconnected"
)

// Question is a single multiple choice question dealt to every player.
type Question struct {
	Text               string   `json:"text" yaml:"text" mapstructure:"text"`
	Options            []string `json:"options" yaml:"options" mapstructure:"options"`
	CorrectOptionIndex int      `json:"correct_option_index" yaml:"correct_option_index" mapstructure:"correct_option_index"`
}

func (q Question) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("question has no text")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %q has %d options, want at least 2", q.Text, len(q.Options))
	}
	if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options) {
		return fmt.Errorf("question %q: correct option index %d out of range", q.Text, q.CorrectOptionIndex)
	}
	return nil
}

// Conn is a client connection as seen by the session. Send must never block:
// it returns false when the message could not be queued.
type Conn interface {
	ID() string
	Send(msg []byte) bool
	Close()
}

// PlayerResult is an immutable snapshot of a player's standing.
type PlayerResult struct {
	Username    string `json:"username"`
	Host        bool   `json:"host"`
	Active      bool   `json:"active"`
	Score       int    `json:"score"`
	RoundScores []int  `json:"round_scores"`
}

// QuizInfo describes a quiz offered by the catalog.
type QuizInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Leaderboard struct {
	SessionID string             `json:"session_id"`
	Entries   []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}
