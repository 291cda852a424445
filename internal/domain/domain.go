package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the lifecycle state of a game session. Transitions between states
// go through the game package's transition table only.
type State string

const (
	StateWaitingOpponent State = "waiting_opponent"
	StatePlaying         State = "playing"
	StateChecking        State = "checking"
	StateGameOver        State = "game_over"
	StateTimeout         State = "timeout"
	StateCanceled        State = "canceled"
)

// Terminal reports whether no further player-visible mutation may occur.
func (s State) Terminal() bool {
	return s == StateGameOver || s == StateTimeout || s == StateCanceled
}

// GameType selects which engine variant governs a session. Fixed at creation.
type GameType string

const (
	GameTypeStandard   GameType = "standard"
	GameTypeTraining   GameType = "training"
	GameTypeBot        GameType = "bot"
	GameTypeTournament GameType = "tournament"
)

// PlayerStatus is the per-participant outcome within a session.
type PlayerStatus string

const (
	PlayerPlaying PlayerStatus = "playing"
	PlayerWon     PlayerStatus = "won"
	PlayerLost    PlayerStatus = "lost"
	PlayerGaveUp  PlayerStatus = "gave_up"
)

// RematchState is the post-game rematch negotiation state.
type RematchState string

const (
	RematchNone     RematchState = "none"
	RematchOffered  RematchState = "offered"
	RematchAccepted RematchState = "accepted"
	RematchRejected RematchState = "rejected"
)

// Session represents one competition instance between one or more participants.
type Session struct {
	ID           string
	State        State
	Type         GameType
	Level        string
	TaskID       string
	TournamentID string
	Players      []Player
	Rematch      Rematch
	StartsAt     time.Time
	FinishsAt    time.Time
}

// Player holds one participant's record within a session.
type Player struct {
	ID         string
	EditorText string
	EditorLang string
	Check      CheckResult
	Status     PlayerStatus
	Rating     decimal.Decimal
	RatingDiff decimal.Decimal
	IsBot      bool
}

// Rematch is the rematch negotiation sub-record of a finished session.
type Rematch struct {
	InitiatorID string
	State       RematchState
}

// CheckResult is a checker verdict for one submission.
type CheckResult struct {
	Checked       bool
	Success       bool
	AssertsPassed int
	AssertsTotal  int
	Details       string
}

// Task is the problem a session is played on. Immutable once assigned.
type Task struct {
	ID    string
	Level string
	Name  string
}

// Player returns the participant record for a user ID. The second return is
// false if the user is not a participant of the session.
func (s *Session) Player(userID string) (*Player, bool) {
	for i := range s.Players {
		if s.Players[i].ID == userID {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// Winner returns the winning player, if any.
func (s *Session) Winner() (*Player, bool) {
	for i := range s.Players {
		if s.Players[i].Status == PlayerWon {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// Creator is the first participant, the one who opened the session.
func (s *Session) Creator() (*Player, bool) {
	if len(s.Players) == 0 {
		return nil, false
	}
	return &s.Players[0], true
}

// Clone returns a deep copy, so callers can hand out snapshots without
// exposing the actor-owned players slice.
func (s Session) Clone() Session {
	c := s
	c.Players = make([]Player, len(s.Players))
	copy(c.Players, s.Players)
	return c
}
