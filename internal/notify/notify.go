package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/engine"
	"github.com/victornm/codeclash/internal/event"
)

const maxConcurrent = 100

const activityEventTerminated = "game:terminated"

type (
	// Notification is the wire shape pushed to connected clients.
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}
)

// Redis is the subset of the redis client the emitter publishes through.
type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// ActivitySink receives one telemetry record per participant on terminal
// events. External collaborator, best-effort.
type ActivitySink interface {
	Record(ctx context.Context, eventName, userID string, payload any) error
}

type Config struct {
	EventBus *event.Bus
	Redis    Redis
	Prefix   string
	Activity ActivitySink
}

// Emitter pushes structured game notifications over redis pubsub. All
// emission is fire-and-forget: a failed publish is logged and never fails the
// transition that triggered it.
type Emitter struct {
	redis    Redis
	prefix   string
	activity ActivitySink
}

func NewEmitter(c Config) *Emitter {
	e := &Emitter{
		redis:    c.Redis,
		prefix:   c.Prefix,
		activity: c.Activity,
	}

	c.EventBus.Subscribe(domain.EventNameSessionTimedOut, func(ctx context.Context, ev event.Event) error {
		return e.handleTimedOut(ctx, ev.(domain.EventSessionTimedOut))
	})
	c.EventBus.Subscribe(domain.EventNameRematchUpdated, func(ctx context.Context, ev event.Event) error {
		e.Emit(ctx, engine.EventRematchStatus, rematchPayload(ev.(domain.EventRematchUpdated).Session))
		return nil
	})

	return e
}

// Emit publishes one notification on the shared games channel.
func (e *Emitter) Emit(ctx context.Context, eventName string, payload any) {
	if err := e.publish(ctx, e.gamesChannel(), eventName, payload); err != nil {
		slog.ErrorContext(ctx, "notify: emit failed",
			"event", eventName,
			"error", err,
		)
	}
}

// TournamentNotify publishes one notification on a tournament's channel.
func (e *Emitter) TournamentNotify(ctx context.Context, eventName, tournamentID string, payload any) {
	if err := e.publish(ctx, e.tournamentChannel(tournamentID), eventName, payload); err != nil {
		slog.ErrorContext(ctx, "notify: tournament notify failed",
			"event", eventName,
			"tournament", tournamentID,
			"error", err,
		)
	}
}

func (e *Emitter) handleTimedOut(ctx context.Context, ev domain.EventSessionTimedOut) error {
	s := ev.Session

	// Bot and training games have no live opponent to tell.
	if s.Type != domain.GameTypeBot && s.Type != domain.GameTypeTraining {
		e.Emit(ctx, engine.EventGameTimeout, map[string]any{"game_id": s.ID})
		e.Emit(ctx, engine.EventRemoveActiveGame, map[string]any{"game_id": s.ID})
	}

	if s.Type == domain.GameTypeTournament {
		e.TournamentNotify(ctx, engine.EventTournamentGameOver, s.TournamentID, map[string]any{
			"game_id": s.ID,
			"state":   domain.StateCanceled,
		})
	}

	if e.activity == nil {
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, p := range s.Players {
		if p.IsBot {
			continue
		}
		eg.Go(func() error {
			return e.activity.Record(ctx, activityEventTerminated, p.ID, map[string]any{
				"game_id": s.ID,
				"state":   s.State,
			})
		})
	}

	return eg.Wait()
}

func (e *Emitter) publish(ctx context.Context, channel, eventName string, payload any) error {
	b, err := json.Marshal(Notification{
		Event: eventName,
		Data:  payload,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %v", eventName, err)
	}

	return e.redis.Publish(ctx, channel, b).Err()
}

func (e *Emitter) gamesChannel() string {
	return fmt.Sprintf("%s:games", e.prefix)
}

func (e *Emitter) tournamentChannel(id string) string {
	return fmt.Sprintf("%s:tournament:%s", e.prefix, id)
}

func rematchPayload(s domain.Session) map[string]any {
	return map[string]any{
		"game_id":      s.ID,
		"state":        s.Rematch.State,
		"initiator_id": s.Rematch.InitiatorID,
	}
}
