package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
)

// Engine is the variant-specific behavior of a game type. The variant is
// resolved once per request from the session type; every variant implements
// the same capability set.
type Engine interface {
	// CreateSession builds the initial session value for a new game.
	CreateSession(ctx context.Context, req CreateRequest) (domain.Session, error)

	// JoinSession runs variant side effects after a player joined.
	JoinSession(ctx context.Context, s domain.Session)

	// CancelSession runs variant side effects after the creator canceled a
	// waiting session.
	CancelSession(ctx context.Context, s domain.Session)

	// HandleGiveUp runs variant side effects after a player gave up.
	HandleGiveUp(ctx context.Context, s domain.Session)

	// HandleWonGame runs variant side effects after a session finished with
	// a winner.
	HandleWonGame(ctx context.Context, s domain.Session)

	// RematchSendOffer is the authorization predicate consulted before a
	// rematch offer is honored.
	RematchSendOffer(s domain.Session, userID string) error
}

// Notifier pushes structured payloads to connected clients. Implementations
// are fire-and-forget: emission failures are logged, never propagated.
type Notifier interface {
	Emit(ctx context.Context, event string, payload any)
	TournamentNotify(ctx context.Context, event, tournamentID string, payload any)
}

// BracketManager is the external tournament bracket the tournament variant
// delegates lifecycle hooks to.
type BracketManager interface {
	MatchStarted(ctx context.Context, tournamentID, sessionID string) error
	MatchFinished(ctx context.Context, tournamentID, sessionID, winnerID string) error
}

// NopBracket is a bracket manager for deployments without a tournament
// service attached.
type NopBracket struct{}

func (NopBracket) MatchStarted(context.Context, string, string) error { return nil }

func (NopBracket) MatchFinished(context.Context, string, string, string) error { return nil }

// CreateRequest holds the parameters for building a new session.
type CreateRequest struct {
	Type         domain.GameType
	Task         domain.Task
	Players      []domain.Player
	TournamentID string
}

// Config carries the collaborators shared by all variants.
type Config struct {
	Notifier Notifier
	Bracket  BracketManager
}

// Set resolves a game type to its engine variant.
type Set struct {
	engines map[domain.GameType]Engine
}

func NewSet(c Config) *Set {
	standard := &standardEngine{notifier: c.Notifier}
	training := &botEngine{}

	return &Set{engines: map[domain.GameType]Engine{
		domain.GameTypeStandard:   standard,
		domain.GameTypeTraining:   training,
		domain.GameTypeBot:        training,
		domain.GameTypeTournament: &tournamentEngine{notifier: c.Notifier, bracket: c.Bracket},
	}}
}

// Resolve returns the engine governing the given game type.
func (s *Set) Resolve(t domain.GameType) (Engine, error) {
	e, ok := s.engines[t]
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown game type %q", t))
	}
	return e, nil
}

func newSession(req CreateRequest) (domain.Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.Session{}, fmt.Errorf("generate session ID: %w", err)
	}

	players := make([]domain.Player, len(req.Players))
	copy(players, req.Players)
	for i := range players {
		players[i].Status = domain.PlayerPlaying
	}

	return domain.Session{
		ID:           id.String(),
		Type:         req.Type,
		Level:        req.Task.Level,
		TaskID:       req.Task.ID,
		TournamentID: req.TournamentID,
		Players:      players,
		Rematch:      domain.Rematch{State: domain.RematchNone},
		State:        domain.StateWaitingOpponent,
	}, nil
}

func requireParticipant(s domain.Session, userID string) error {
	if _, ok := s.Player(userID); !ok {
		return errors.New(errors.CodeForbidden,
			errors.WithMessagef("user %s did not play in session %s", userID, s.ID))
	}
	return nil
}

func startPlaying(s *domain.Session) {
	s.State = domain.StatePlaying
	s.StartsAt = time.Now()
}
