package domain

const (
	EventNameSessionTransitioned = "session.transitioned"
	EventNameSessionFinished     = "session.finished"
	EventNameSessionTimedOut     = "session.timed_out"
	EventNameSessionCanceled     = "session.canceled"
	EventNameRematchUpdated      = "session.rematch_updated"
)

// EventSessionTransitioned is published after every successfully applied
// transition, carrying a snapshot of the new state. The playbook recorder
// subscribes to it.
type EventSessionTransitioned struct {
	Session Session
	Event   string
	ActorID string
	Data    any
}

func (EventSessionTransitioned) Name() string { return EventNameSessionTransitioned }

// EventSessionFinished is published once, when a session enters game_over.
type EventSessionFinished struct {
	Session Session
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

// EventSessionTimedOut is published once, when a live session is forced into
// the timeout state.
type EventSessionTimedOut struct {
	Session Session
}

func (EventSessionTimedOut) Name() string { return EventNameSessionTimedOut }

// EventSessionCanceled is published when a waiting session is canceled by its
// creator.
type EventSessionCanceled struct {
	Session Session
}

func (EventSessionCanceled) Name() string { return EventNameSessionCanceled }

// EventRematchUpdated is published on every rematch negotiation change.
type EventRematchUpdated struct {
	Session Session
}

func (EventRematchUpdated) Name() string { return EventNameRematchUpdated }
