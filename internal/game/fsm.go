package game

import (
	"slices"
	"time"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
)

// Event is a named trigger for a session state transition.
type Event string

const (
	EventJoin             Event = "join"
	EventCancel           Event = "cancel"
	EventUpdateEditorData Event = "update_editor_data"
	EventCheckComplete    Event = "check_complete"
	EventGiveUp           Event = "give_up"
	EventRematchSendOffer Event = "rematch_send_offer"
	EventRematchAccept    Event = "rematch_accept"
	EventRematchReject    Event = "rematch_reject"
	EventTimeout          Event = "timeout"
)

// MaxPlayers is the session capacity. Bot and training sessions hold the
// scripted opponent in the same slot layout.
const MaxPlayers = 2

// Payload carries the event-specific data of a transition request.
type Payload interface {
	// UserID identifies the acting participant, empty for system events.
	UserID() string
}

type JoinPayload struct{ Player domain.Player }

func (p JoinPayload) UserID() string { return p.Player.ID }

type CancelPayload struct{ User string }

func (p CancelPayload) UserID() string { return p.User }

type EditorPayload struct {
	User string
	Text string
	Lang string
}

func (p EditorPayload) UserID() string { return p.User }

type CheckPayload struct {
	User   string
	Result domain.CheckResult
}

func (p CheckPayload) UserID() string { return p.User }

type GiveUpPayload struct{ User string }

func (p GiveUpPayload) UserID() string { return p.User }

type RematchPayload struct{ User string }

func (p RematchPayload) UserID() string { return p.User }

type TimeoutPayload struct{}

func (TimeoutPayload) UserID() string { return "" }

// transition is a single allowed edge of the session state machine.
type transition struct {
	event Event
	from  []domain.State
	apply func(s *domain.Session, p Payload) error
}

var transitions = []transition{
	{
		event: EventJoin,
		from:  []domain.State{domain.StateWaitingOpponent},
		apply: applyJoin,
	},
	{
		event: EventCancel,
		from:  []domain.State{domain.StateWaitingOpponent},
		apply: applyCancel,
	},
	{
		event: EventUpdateEditorData,
		from:  []domain.State{domain.StatePlaying},
		apply: applyUpdateEditorData,
	},
	{
		event: EventCheckComplete,
		from:  []domain.State{domain.StatePlaying},
		apply: applyCheckComplete,
	},
	{
		event: EventGiveUp,
		from:  []domain.State{domain.StatePlaying},
		apply: applyGiveUp,
	},
	{
		event: EventRematchSendOffer,
		from:  []domain.State{domain.StateGameOver},
		apply: applyRematchSendOffer,
	},
	{
		event: EventRematchAccept,
		from:  []domain.State{domain.StateGameOver},
		apply: applyRematchAccept,
	},
	{
		event: EventRematchReject,
		from:  []domain.State{domain.StateGameOver},
		apply: applyRematchReject,
	},
	{
		event: EventTimeout,
		from:  []domain.State{domain.StateWaitingOpponent, domain.StatePlaying},
		apply: applyTimeout,
	},
}

// Apply validates ev against the current state of s and returns the session
// after the transition. It works on a copy: on error the input session is
// returned unchanged, and the caller's copy is never touched.
func Apply(s domain.Session, ev Event, p Payload) (domain.Session, error) {
	for _, tr := range transitions {
		if tr.event != ev {
			continue
		}

		if !slices.Contains(tr.from, s.State) {
			return s, errors.New(errors.CodeInvalidState,
				errors.WithMessagef("event %q is not allowed in state %q", ev, s.State))
		}

		next := s.Clone()
		if err := tr.apply(&next, p); err != nil {
			return s, err
		}
		return next, nil
	}

	return s, errors.New(errors.CodeInvalidState,
		errors.WithMessagef("unknown event %q", ev))
}

func applyJoin(s *domain.Session, p Payload) error {
	jp := p.(JoinPayload)

	if len(s.Players) >= MaxPlayers {
		return errors.New(errors.CodeAlreadyFull,
			errors.WithMessagef("session %s is already full", s.ID))
	}
	if _, ok := s.Player(jp.Player.ID); ok {
		return errors.New(errors.CodeInvalidState,
			errors.WithMessagef("user %s already joined session %s", jp.Player.ID, s.ID))
	}

	player := jp.Player
	player.Status = domain.PlayerPlaying
	s.Players = append(s.Players, player)

	if len(s.Players) == MaxPlayers {
		s.State = domain.StatePlaying
		s.StartsAt = time.Now()
	}
	return nil
}

func applyCancel(s *domain.Session, p Payload) error {
	creator, ok := s.Creator()
	if !ok || creator.ID != p.UserID() {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("only the creator may cancel session %s", s.ID))
	}

	s.State = domain.StateCanceled
	s.FinishsAt = time.Now()
	return nil
}

func applyUpdateEditorData(s *domain.Session, p Payload) error {
	ep := p.(EditorPayload)

	player, ok := s.Player(ep.User)
	if !ok {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("user %s is not a participant of session %s", ep.User, s.ID))
	}

	player.EditorText = ep.Text
	if ep.Lang != "" {
		player.EditorLang = ep.Lang
	}
	return nil
}

func applyCheckComplete(s *domain.Session, p Payload) error {
	cp := p.(CheckPayload)

	player, ok := s.Player(cp.User)
	if !ok {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("user %s is not a participant of session %s", cp.User, s.ID))
	}

	result := cp.Result
	result.Checked = true
	player.Check = result

	if !result.Success {
		return nil
	}

	// First winning check ends the game. A second winning check never gets
	// here: the session is already game_over and the from-state check
	// rejects it.
	player.Status = domain.PlayerWon
	for i := range s.Players {
		if s.Players[i].Status == domain.PlayerPlaying {
			s.Players[i].Status = domain.PlayerLost
		}
	}
	s.State = domain.StateGameOver
	s.FinishsAt = time.Now()
	return nil
}

func applyGiveUp(s *domain.Session, p Payload) error {
	player, ok := s.Player(p.UserID())
	if !ok {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("user %s is not a participant of session %s", p.UserID(), s.ID))
	}

	player.Status = domain.PlayerGaveUp
	for i := range s.Players {
		if s.Players[i].Status == domain.PlayerPlaying {
			s.Players[i].Status = domain.PlayerWon
		}
	}
	s.State = domain.StateGameOver
	s.FinishsAt = time.Now()
	return nil
}

func applyRematchSendOffer(s *domain.Session, p Payload) error {
	if _, ok := s.Player(p.UserID()); !ok {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("user %s is not a participant of session %s", p.UserID(), s.ID))
	}
	if s.Rematch.State == domain.RematchOffered || s.Rematch.State == domain.RematchAccepted {
		return errors.New(errors.CodeInvalidState,
			errors.WithMessagef("rematch for session %s is already %s", s.ID, s.Rematch.State))
	}

	s.Rematch = domain.Rematch{
		InitiatorID: p.UserID(),
		State:       domain.RematchOffered,
	}
	return nil
}

func applyRematchAccept(s *domain.Session, p Payload) error {
	if _, ok := s.Player(p.UserID()); !ok {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("user %s is not a participant of session %s", p.UserID(), s.ID))
	}
	if s.Rematch.State != domain.RematchOffered {
		return errors.New(errors.CodeInvalidState,
			errors.WithMessagef("no rematch offer pending for session %s", s.ID))
	}
	if s.Rematch.InitiatorID == p.UserID() {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("user %s cannot accept their own rematch offer", p.UserID()))
	}

	s.Rematch.State = domain.RematchAccepted
	return nil
}

func applyRematchReject(s *domain.Session, p Payload) error {
	if _, ok := s.Player(p.UserID()); !ok {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("user %s is not a participant of session %s", p.UserID(), s.ID))
	}

	// Rejecting twice is fine, the state simply stays rejected.
	s.Rematch.State = domain.RematchRejected
	return nil
}

func applyTimeout(s *domain.Session, _ Payload) error {
	s.State = domain.StateTimeout
	s.FinishsAt = time.Now()
	return nil
}
