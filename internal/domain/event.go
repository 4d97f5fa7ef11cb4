package domain

import "time"

const (
	EventNameGameStarted        = "game.started"
	EventNameRoundStarted       = "round.started"
	EventNameAnswerSubmitted    = "answer.submitted"
	EventNameScoreReverted      = "score.reverted"
	EventNameGameEnded          = "game.ended"
	EventNameGameReset          = "game.reset"
	EventNamePlayerConnected    = "player.connected"
	EventNamePlayerDisconnected = "player.disconnected"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventGameStarted struct {
	SessionID string
	QuizID    string
	Questions int
	TimeLimit time.Duration
}

func (EventGameStarted) Name() string { return EventNameGameStarted }

type EventRoundStarted struct {
	SessionID      string
	QuestionNumber int
	Question       Question
	Deadline       time.Time
	ActivePlayers  int
}

func (EventRoundStarted) Name() string { return EventNameRoundStarted }

type EventAnswerSubmitted struct {
	SessionID      string
	Username       string
	QuestionNumber int
	Correct        bool
	TotalScore     int
	SubmitTime     time.Time
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }

// EventScoreReverted is published when a disconnect takes back the points of an open question.
type EventScoreReverted struct {
	SessionID      string
	Username       string
	QuestionNumber int
	TotalScore     int
}

func (EventScoreReverted) Name() string { return EventNameScoreReverted }

type EventGameEnded struct {
	SessionID string
	QuizID    string
	Questions int
	Players   []PlayerResult
	EndTime   time.Time
}

func (EventGameEnded) Name() string { return EventNameGameEnded }

type EventGameReset struct {
	SessionID    string
	NewSessionID string
}

func (EventGameReset) Name() string { return EventNameGameReset }

type EventPlayerConnected struct {
	SessionID   string
	Username    string
	Reconnected bool
}

func (EventPlayerConnected) Name() string { return EventNamePlayerConnected }

type EventPlayerDisconnected struct {
	SessionID string
	Username  string
}

func (EventPlayerDisconnected) Name() string { return EventNamePlayerDisconnected }

// EventLeaderboardUpdated is published by the leaderboard after scores changed, at most once per interval.
type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
