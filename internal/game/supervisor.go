package game

import (
	"context"
	"log/slog"
	"sync"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
	"github.com/victornm/codeclash/internal/event"
	"github.com/victornm/codeclash/internal/telemetry"
)

// Supervisor starts and terminates session processes, keeping process
// lifecycle and registry membership in step. A crashing process is contained
// to its own session: it is logged and removed, siblings keep running.
type Supervisor struct {
	mu       sync.Mutex
	registry *Registry
	bus      *event.Bus
}

type SupervisorConfig struct {
	Registry *Registry
	Bus      *event.Bus
}

func NewSupervisor(c SupervisorConfig) *Supervisor {
	return &Supervisor{
		registry: c.Registry,
		bus:      c.Bus,
	}
}

// StartSession spawns a process owning the given initial state and registers
// it. There is no window in which the process runs unregistered.
func (sv *Supervisor) StartSession(s domain.Session) (*Process, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if _, err := sv.registry.Lookup(s.ID); err == nil {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("session %s is already running", s.ID))
	}

	p := NewProcess(ProcessConfig{
		Session: s,
		Bus:     sv.bus,
		OnTransition: func(_ Event, s domain.Session) {
			sv.registry.UpdateMeta(metaOf(s))
		},
		OnExit: func(crashed bool) {
			if crashed {
				sv.handleCrash(s.ID)
			}
		},
	})

	sv.registry.Register(p, metaOf(s))
	telemetry.ActiveSessions.Inc()
	return p, nil
}

// TerminateSession stops the process of one session and removes it from the
// registry. Sibling sessions are unaffected. Terminating an unknown session
// is a no-op.
func (sv *Supervisor) TerminateSession(id string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	p, err := sv.registry.Lookup(id)
	if err != nil {
		return
	}

	sv.registry.Unregister(id)
	telemetry.ActiveSessions.Dec()
	p.Stop()
}

func (sv *Supervisor) handleCrash(id string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if _, err := sv.registry.Lookup(id); err != nil {
		return
	}

	sv.registry.Unregister(id)
	telemetry.ActiveSessions.Dec()
	slog.ErrorContext(context.Background(), "game: removed crashed session process",
		"session", id,
	)
}

func metaOf(s domain.Session) Meta {
	return Meta{
		ID:    s.ID,
		Type:  s.Type,
		Level: s.Level,
		State: s.State,
	}
}
