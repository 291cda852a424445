package engine

import (
	"context"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
)

// botEngine covers bot and training games: a single human against a scripted
// opponent. There is no live opponent, so no matchmaking slot is consumed and
// nothing is broadcast on finish.
type botEngine struct{}

func (e *botEngine) CreateSession(_ context.Context, req CreateRequest) (domain.Session, error) {
	if len(req.Players) != 1 {
		return domain.Session{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("bot game starts with one human player, got %d players", len(req.Players)))
	}

	s, err := newSession(req)
	if err != nil {
		return domain.Session{}, err
	}

	s.Players = append(s.Players, domain.Player{
		ID:     "bot:" + s.TaskID,
		Status: domain.PlayerPlaying,
		IsBot:  true,
	})

	// Both slots are filled at creation, the game starts immediately.
	startPlaying(&s)
	return s, nil
}

func (e *botEngine) JoinSession(context.Context, domain.Session) {}

func (e *botEngine) CancelSession(context.Context, domain.Session) {}

func (e *botEngine) HandleGiveUp(context.Context, domain.Session) {}

func (e *botEngine) HandleWonGame(context.Context, domain.Session) {}

func (e *botEngine) RematchSendOffer(s domain.Session, userID string) error {
	return requireParticipant(s, userID)
}
