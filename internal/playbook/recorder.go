package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/event"
)

// Record is one entry of a session's append-only event log, kept for replay
// and audit.
type Record struct {
	Time    time.Time       `json:"time"`
	Event   string          `json:"event"`
	ActorID string          `json:"actor_id,omitempty"`
	State   domain.State    `json:"state"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Recorder appends a playbook record for every applied session transition.
// Write-only from the core's perspective; List exists for replay tooling.
type Recorder struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRecorder(c Config) *Recorder {
	r := &Recorder{
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	c.EventBus.Subscribe(domain.EventNameSessionTransitioned, func(ctx context.Context, e event.Event) error {
		return r.record(ctx, e.(domain.EventSessionTransitioned))
	})

	return r
}

func (r *Recorder) record(ctx context.Context, e domain.EventSessionTransitioned) error {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("playbook: marshal payload of %s: %w", e.Event, err)
	}

	return r.Append(ctx, e.Session.ID, Record{
		Time:    time.Now(),
		Event:   e.Event,
		ActorID: e.ActorID,
		State:   e.Session.State,
		Payload: payload,
	})
}

// Append writes one record to the end of the session's log.
func (r *Recorder) Append(ctx context.Context, sessionID string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("playbook: marshal record: %w", err)
	}

	if err := r.redis.RPush(ctx, r.key(sessionID), b).Err(); err != nil {
		return fmt.Errorf("playbook: append to session %s: %w", sessionID, err)
	}
	return nil
}

// List returns the full log of a session in append order.
func (r *Recorder) List(ctx context.Context, sessionID string) ([]Record, error) {
	raw, err := r.redis.LRange(ctx, r.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("playbook: list session %s: %w", sessionID, err)
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("playbook: unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *Recorder) key(sessionID string) string {
	return fmt.Sprintf("%s:%s:playbook", r.prefix, sessionID)
}
