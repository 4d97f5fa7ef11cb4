package game

import (
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/player"
)

// Outbound message types.
const (
	MessageDuplicateUsername   = "duplicate_username"
	MessageConnectedGameStatus = "connected_game_status"
	MessageRoundStart          = "round_start"
	MessagePlayerConnected     = "player_connected"
	MessagePlayerSubmitted     = "player_submitted"
	MessagePlayerDisconnected  = "player_disconnected"
	MessageGameEnd             = "game_end"
	MessageHostAssigned        = "host_assigned"
	MessageError               = "error"
)

// PlayerView is a player as shown to clients.
type PlayerView struct {
	Username    string              `json:"username"`
	Icon        string              `json:"icon"`
	IsGameHost  bool                `json:"isGameHost"`
	IsActive    bool                `json:"isActive"`
	Status      domain.PlayerStatus `json:"status"`
	Score       int                 `json:"score"`
	RoundScores []int               `json:"roundScores"`
}

func viewOf(p *player.Player) PlayerView {
	return PlayerView{
		Username:    p.Username,
		Icon:        p.Icon,
		IsGameHost:  p.IsHost,
		IsActive:    p.IsActive,
		Status:      p.Status,
		Score:       p.Score,
		RoundScores: append([]int{}, p.RoundScores...),
	}
}

func viewsOf(players []*player.Player) []PlayerView {
	out := make([]PlayerView, 0, len(players))
	for _, p := range players {
		out = append(out, viewOf(p))
	}
	return out
}

// QuestionView is a question without its answer.
type QuestionView struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

type DuplicateUsername struct {
	Type string `json:"type"`
}

type ConnectedGameStatus struct {
	Type        string            `json:"type"`
	Host        *PlayerView       `json:"host"`
	GameStatus  domain.GameStatus `json:"game_status"`
	QuizOptions []domain.QuizInfo `json:"quiz_options"`
}

type RoundStart struct {
	Type           string       `json:"type"`
	Question       QuestionView `json:"question"`
	QuestionNumber int          `json:"questionNumber"`
	// RoundTime is the time limit in seconds, zero when unlimited.
	RoundTime       int          `json:"roundTime"`
	RoundEndTimeUTC int64        `json:"roundEndTimeUTC"`
	Players         []PlayerView `json:"players"`
}

type PlayerConnected struct {
	Type       string       `json:"type"`
	PlayerName string       `json:"playerName"`
	Host       bool         `json:"host"`
	Players    []PlayerView `json:"players"`
}

type PlayerSubmitted struct {
	Type       string       `json:"type"`
	PlayerName string       `json:"playerName"`
	Players    []PlayerView `json:"players"`
}

type PlayerDisconnected struct {
	Type       string       `json:"type"`
	PlayerName string       `json:"playerName"`
	Host       bool         `json:"host"`
	Players    []PlayerView `json:"players"`
}

type GameEnd struct {
	Type    string       `json:"type"`
	Players []PlayerView `json:"players"`
}

type HostAssigned struct {
	Type       string `json:"type"`
	PlayerName string `json:"playerName"`
}

type Error struct {
	Type    string      `json:"type"`
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

func errorMessage(err error) Error {
	e := errors.Convert(err)
	msg := e.Message
	if e.Code == errors.CodeInternal {
		msg = "internal error"
	}

	return Error{
		Type:    MessageError,
		Code:    e.Code,
		Message: msg,
	}
}
