package engine

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
)

const (
	// EventFinishActiveGame and friends are the notification event names
	// pushed to connected clients.
	EventFinishActiveGame   = "game:finish_active_game"
	EventRemoveActiveGame   = "game:remove_active_game"
	EventGameTimeout        = "game:timeout"
	EventRematchStatus      = "game:rematch_update_status"
	EventTournamentGameOver = "game:game_over"
)

const eloK = 32

// standardEngine is the ranked 1v1 variant: real matchmaking slot, full
// broadcasts, Elo-style rating deltas on finish.
type standardEngine struct {
	notifier Notifier
}

func (e *standardEngine) CreateSession(_ context.Context, req CreateRequest) (domain.Session, error) {
	if len(req.Players) != 1 {
		return domain.Session{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("standard game starts with one creator, got %d players", len(req.Players)))
	}

	return newSession(req)
}

func (e *standardEngine) JoinSession(ctx context.Context, s domain.Session) {
	// The session is no longer joinable, drop it from the lobby list.
	e.notifier.Emit(ctx, EventRemoveActiveGame, map[string]any{"game_id": s.ID})
}

func (e *standardEngine) CancelSession(ctx context.Context, s domain.Session) {
	e.notifier.Emit(ctx, EventRemoveActiveGame, map[string]any{"game_id": s.ID})
}

func (e *standardEngine) HandleGiveUp(ctx context.Context, s domain.Session) {
	e.finish(ctx, s)
}

func (e *standardEngine) HandleWonGame(ctx context.Context, s domain.Session) {
	e.finish(ctx, s)
}

func (e *standardEngine) RematchSendOffer(s domain.Session, userID string) error {
	return requireParticipant(s, userID)
}

func (e *standardEngine) finish(ctx context.Context, s domain.Session) {
	players := ratePlayers(s)

	e.notifier.Emit(ctx, EventFinishActiveGame, finishPayload(s, players))
	e.notifier.Emit(ctx, EventRemoveActiveGame, map[string]any{"game_id": s.ID})
}

// ratePlayers computes Elo rating deltas for a finished 1v1 game. The deltas
// go into the finish payload and the durable record; player accounts
// themselves live in external storage.
func ratePlayers(s domain.Session) []domain.Player {
	players := make([]domain.Player, len(s.Players))
	copy(players, s.Players)

	if len(players) != 2 {
		return players
	}

	for i := range players {
		opponent := players[1-i]

		var outcome float64
		switch players[i].Status {
		case domain.PlayerWon:
			outcome = 1
		case domain.PlayerLost, domain.PlayerGaveUp:
			outcome = 0
		default:
			continue
		}

		ra, _ := players[i].Rating.Float64()
		rb, _ := opponent.Rating.Float64()
		expected := 1 / (1 + math.Pow(10, (rb-ra)/400))

		players[i].RatingDiff = decimal.NewFromFloat(eloK * (outcome - expected)).Round(2)
	}

	return players
}

func finishPayload(s domain.Session, players []domain.Player) map[string]any {
	ps := make([]map[string]any, 0, len(players))
	for _, p := range players {
		ps = append(ps, map[string]any{
			"id":          p.ID,
			"status":      p.Status,
			"rating":      p.Rating,
			"rating_diff": p.RatingDiff,
		})
	}

	return map[string]any{
		"game_id": s.ID,
		"state":   s.State,
		"players": ps,
	}
}
