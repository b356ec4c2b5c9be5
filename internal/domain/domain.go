package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage is the lifecycle stage of a quiz zone. It only moves forward.
type Stage string

const (
	StageLobby      Stage = "LOBBY"
	StageInProgress Stage = "IN_PROGRESS"
	StageFinished   Stage = "FINISHED"
)

// PlayerState is the per-round submission state of a player.
type PlayerState string

const (
	PlayerStateWait      PlayerState = "WAIT"
	PlayerStateSubmitted PlayerState = "SUBMITTED"
)

// Quiz is a single question with its answer and answer window.
type Quiz struct {
	Question string
	Answer   string
	PlayTime time.Duration
}

// Submit is one submission record of a player within a round.
// A timed-out round appends an implicit record with an empty answer.
type Submit struct {
	QuizIndex  int
	Answer     string
	Correct    bool
	Score      decimal.Decimal
	ReceivedAt time.Time
}

// Player is one participant of a quiz zone.
type Player struct {
	ID        string
	Score     decimal.Decimal
	Submits   []Submit
	State     PlayerState
	JoinOrder int
}

// QuizZone is one independent room running a sequence of timed rounds.
//
// All reads and writes of a zone happen under the orchestrator's per-zone
// exclusion; the struct itself carries no locking.
type QuizZone struct {
	ID          string
	Title       string
	Description string
	AdminID     string

	Players    map[string]*Player
	MaxPlayers int

	Quizzes          []Quiz
	CurrentQuizIndex int

	Stage Stage

	CurrentQuizStartTime    time.Time
	CurrentQuizDeadlineTime time.Time
	IntervalTime            time.Duration
}

// WaitingRoom is the read-only snapshot returned to a joining client.
type WaitingRoom struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	QuizCount   int    `json:"quizCount"`
	Stage       Stage  `json:"stage"`
}

// SummaryEntry is one row of the final ranked result.
// Entries are ordered by score descending, ties broken by join order.
type SummaryEntry struct {
	ID    string          `json:"id"`
	Score decimal.Decimal `json:"score"`
	Rank  int             `json:"rank"`
}
