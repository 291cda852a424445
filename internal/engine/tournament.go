package engine

import (
	"context"
	"log/slog"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
)

// tournamentEngine delegates lifecycle hooks to the external bracket manager
// instead of standard matchmaking. Both players are assigned by the bracket,
// so sessions start playing immediately.
type tournamentEngine struct {
	notifier Notifier
	bracket  BracketManager
}

func (e *tournamentEngine) CreateSession(ctx context.Context, req CreateRequest) (domain.Session, error) {
	if req.TournamentID == "" {
		return domain.Session{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("tournament game requires a tournament ID"))
	}
	if len(req.Players) != 2 {
		return domain.Session{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("tournament game requires two bracket players, got %d", len(req.Players)))
	}

	s, err := newSession(req)
	if err != nil {
		return domain.Session{}, err
	}
	startPlaying(&s)

	if err := e.bracket.MatchStarted(ctx, s.TournamentID, s.ID); err != nil {
		slog.ErrorContext(ctx, "engine: bracket match started failed",
			"tournament", s.TournamentID,
			"session", s.ID,
			"error", err,
		)
	}
	return s, nil
}

func (e *tournamentEngine) JoinSession(context.Context, domain.Session) {}

func (e *tournamentEngine) CancelSession(ctx context.Context, s domain.Session) {
	e.notifier.TournamentNotify(ctx, EventTournamentGameOver, s.TournamentID, map[string]any{
		"game_id": s.ID,
		"state":   domain.StateCanceled,
	})
}

func (e *tournamentEngine) HandleGiveUp(ctx context.Context, s domain.Session) {
	e.HandleWonGame(ctx, s)
}

func (e *tournamentEngine) HandleWonGame(ctx context.Context, s domain.Session) {
	var winnerID string
	if w, ok := s.Winner(); ok {
		winnerID = w.ID
	}

	if err := e.bracket.MatchFinished(ctx, s.TournamentID, s.ID, winnerID); err != nil {
		slog.ErrorContext(ctx, "engine: bracket match finished failed",
			"tournament", s.TournamentID,
			"session", s.ID,
			"error", err,
		)
	}

	e.notifier.TournamentNotify(ctx, EventTournamentGameOver, s.TournamentID, map[string]any{
		"game_id": s.ID,
		"state":   s.State,
		"winner":  winnerID,
	})
}

// RematchSendOffer always refuses: tournament pairings are owned by the
// bracket manager.
func (e *tournamentEngine) RematchSendOffer(s domain.Session, userID string) error {
	return errors.New(errors.CodeForbidden,
		errors.WithMessagef("rematch is not available in tournament games"))
}
