package game

import (
	"sync"

	"github.com/victornm/codeclash/internal/domain"
	"github.com/victornm/codeclash/internal/errors"
)

// Meta is the minimal per-session metadata the registry keeps for filtering,
// so listings never have to touch a session process.
type Meta struct {
	ID    string
	Type  domain.GameType
	Level string
	State domain.State
}

// Filter constrains a registry listing. Zero values match everything.
type Filter struct {
	Type  domain.GameType
	Level string
	State domain.State
}

func (f Filter) matches(m Meta) bool {
	if f.Type != "" && f.Type != m.Type {
		return false
	}
	if f.Level != "" && f.Level != m.Level {
		return false
	}
	if f.State != "" && f.State != m.State {
		return false
	}
	return true
}

type entry struct {
	process *Process
	meta    Meta
}

// Registry is the process-wide mapping from session id to its running
// process. Safe for concurrent use by session processes and external callers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(p *Process, m Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[m.ID] = entry{process: p, meta: m}
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, id)
}

// Lookup resolves a session id to its process.
func (r *Registry) Lookup(id string) (*Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session %s not found", id))
	}
	return e.process, nil
}

// UpdateMeta refreshes the filterable metadata of a registered session. A
// no-op if the session has been unregistered meanwhile.
func (r *Registry) UpdateMeta(m Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[m.ID]
	if !ok {
		return
	}
	e.meta = m
	r.entries[m.ID] = e
}

// List returns metadata of all registered sessions matching the filter.
func (r *Registry) List(f Filter) []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]Meta, 0, len(r.entries))
	for _, e := range r.entries {
		if f.matches(e.meta) {
			metas = append(metas, e.meta)
		}
	}
	return metas
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
