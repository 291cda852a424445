package game

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
	"github.com/victornm/codeclash/internal/event"
)

// Process is the single owner of one session's mutable state. Every request
// addressed to the session funnels through its loop goroutine and is handled
// strictly one at a time, so transitions are serialized by construction, not
// by locking.
type Process struct {
	id  string
	bus *event.Bus

	requests chan request
	quit     chan struct{}
	done     chan struct{}

	stopOnce sync.Once

	// onTransition is invoked from the loop after every applied transition,
	// before the next request is served. Used by the supervisor to keep
	// registry metadata in sync.
	onTransition func(ev Event, s domain.Session)

	// onExit is invoked exactly once when the loop ends, crashed reports
	// whether it ended by panic.
	onExit func(crashed bool)
}

type requestKind int

const (
	kindGet requestKind = iota
	kindCall
	kindAppend
)

type request struct {
	kind    requestKind
	event   Event
	payload Payload

	// playbook append fields
	name  string
	actor string
	data  any

	resp chan response
}

type response struct {
	session domain.Session
	err     error
}

// ProcessConfig configures a session process.
type ProcessConfig struct {
	Session      domain.Session
	Bus          *event.Bus
	OnTransition func(ev Event, s domain.Session)
	OnExit       func(crashed bool)
}

// NewProcess starts the loop goroutine owning the given session.
func NewProcess(c ProcessConfig) *Process {
	p := &Process{
		id:           c.Session.ID,
		bus:          c.Bus,
		requests:     make(chan request),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		onTransition: c.OnTransition,
		onExit:       c.OnExit,
	}

	go p.loop(c.Session)
	return p
}

// ID returns the session id this process serves.
func (p *Process) ID() string { return p.id }

// State returns a snapshot of the current session state.
func (p *Process) State(ctx context.Context) (domain.Session, error) {
	return p.send(ctx, request{kind: kindGet})
}

// Call applies one transition. On success the new state is returned and side
// effects are dispatched through the event bus; on failure the state is left
// untouched and the error is returned.
func (p *Process) Call(ctx context.Context, ev Event, payload Payload) (domain.Session, error) {
	return p.send(ctx, request{kind: kindCall, event: ev, payload: payload})
}

// AppendPlaybook records a non-transition event (editor keystrokes batches,
// check started markers) into the session's playbook stream.
func (p *Process) AppendPlaybook(ctx context.Context, name, actor string, data any) error {
	_, err := p.send(ctx, request{kind: kindAppend, name: name, actor: actor, data: data})
	return err
}

// Stop terminates the loop. In-flight requests either complete before the
// loop observes the signal or fail with a not-found error; no partial state
// is ever observable.
func (p *Process) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	<-p.done
}

func (p *Process) send(ctx context.Context, req request) (domain.Session, error) {
	req.resp = make(chan response, 1)

	select {
	case p.requests <- req:
	case <-p.done:
		return domain.Session{}, p.gone()
	case <-ctx.Done():
		return domain.Session{}, errors.Internal(ctx.Err())
	}

	select {
	case r := <-req.resp:
		return r.session, r.err
	case <-p.done:
		return domain.Session{}, p.gone()
	}
}

func (p *Process) gone() error {
	return errors.New(errors.CodeNotFound,
		errors.WithMessagef("session %s no longer exists", p.id))
}

func (p *Process) loop(s domain.Session) {
	crashed := false

	defer func() {
		if r := recover(); r != nil {
			crashed = true
			slog.Error("game: session process crashed",
				"session", p.id,
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}

		close(p.done)
		if p.onExit != nil {
			p.onExit(crashed)
		}
	}()

	for {
		select {
		case req := <-p.requests:
			req.resp <- p.handle(&s, req)
		case <-p.quit:
			return
		}
	}
}

func (p *Process) handle(s *domain.Session, req request) response {
	switch req.kind {
	case kindGet:
		return response{session: s.Clone()}

	case kindAppend:
		p.publishPlaybook(s.Clone(), req.name, req.actor, req.data)
		return response{session: s.Clone()}

	case kindCall:
		next, err := Apply(*s, req.event, req.payload)
		if err != nil {
			return response{session: s.Clone(), err: err}
		}

		prev := s.State
		*s = next
		if p.onTransition != nil {
			p.onTransition(req.event, next.Clone())
		}
		p.publishTransition(prev, req.event, req.payload, next.Clone())
		return response{session: next.Clone()}

	default:
		return response{err: errors.Internal(fmt.Errorf("unknown request kind %d", req.kind))}
	}
}

func (p *Process) publishTransition(prev domain.State, ev Event, payload Payload, s domain.Session) {
	ctx := context.Background()

	p.bus.Publish(ctx, domain.EventSessionTransitioned{
		Session: s,
		Event:   string(ev),
		ActorID: payload.UserID(),
		Data:    payload,
	})

	switch {
	case s.State == domain.StateGameOver && prev != domain.StateGameOver:
		p.bus.Publish(ctx, domain.EventSessionFinished{Session: s})
	case s.State == domain.StateTimeout:
		p.bus.Publish(ctx, domain.EventSessionTimedOut{Session: s})
	case s.State == domain.StateCanceled:
		p.bus.Publish(ctx, domain.EventSessionCanceled{Session: s})
	}

	if ev == EventRematchSendOffer || ev == EventRematchAccept || ev == EventRematchReject {
		p.bus.Publish(ctx, domain.EventRematchUpdated{Session: s})
	}
}

func (p *Process) publishPlaybook(s domain.Session, name, actor string, data any) {
	p.bus.Publish(context.Background(), domain.EventSessionTransitioned{
		Session: s,
		Event:   name,
		ActorID: actor,
		Data:    data,
	})
}
