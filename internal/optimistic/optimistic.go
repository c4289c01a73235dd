// Package optimistic applies client mutations immediately and reconciles
// them once the authoritative result arrives. The client never waits for a
// round-trip to see its own edit, and never ends up showing state that
// contradicts what the server confirmed.
package optimistic

import (
	"errors"
	"sync"
	"time"

	"github.com/daygrid/daygrid/internal/core"
)

// Op is the kind of optimistic mutation
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ErrDuplicateTempID is returned when Apply reuses a live temp ID
var ErrDuplicateTempID = errors.New("optimistic entry already exists for temp id")

// Entry tracks one in-flight mutation, keyed by a client-generated temp ID
type Entry struct {
	TempID   string          `json:"temp_id"`
	Op       Op              `json:"op"`
	Kind     core.EntityKind `json:"kind"`
	EntityID core.EntityID   `json:"entity_id"`

	// Pre-mutation state for rollback; nil for a pure create
	Before map[string]any `json:"before,omitempty"`

	// Proposed post-mutation state
	After map[string]any `json:"after,omitempty"`

	AppliedAt time.Time `json:"applied_at"`
}

// Entity is one client-visible record. Kind is an explicit discriminant
// set when the entity enters the manager, never guessed from field shape.
type Entity struct {
	ID     core.EntityID   `json:"id"`
	Kind   core.EntityKind `json:"kind"`
	Fields map[string]any  `json:"fields"`
}

// Manager owns the client-visible entity map and the pending entries.
// It is constructed once at startup and passed by reference; there are no
// package-level globals. A single client writes at a time per temp ID, but
// the mutex keeps concurrent readers safe regardless.
type Manager struct {
	mu      sync.RWMutex
	visible map[core.EntityID]*Entity
	pending map[string]*Entry
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{
		visible: make(map[core.EntityID]*Entity),
		pending: make(map[string]*Entry),
	}
}

// Seed loads authoritative state into the visible map without creating
// pending entries (startup hydration from storage).
func (m *Manager) Seed(entities []Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range entities {
		e := entities[i]
		e.Fields = cloneFields(e.Fields)
		m.visible[e.ID] = &e
	}
}

// Apply records a pending mutation and updates client-visible state
// immediately, before any durable write completes. At most one live entry
// may exist per temp ID.
func (m *Manager) Apply(tempID string, op Op, kind core.EntityKind, entityID core.EntityID, proposed map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[tempID]; ok {
		return ErrDuplicateTempID
	}

	entry := &Entry{
		TempID:    tempID,
		Op:        op,
		Kind:      kind,
		EntityID:  entityID,
		After:     cloneFields(proposed),
		AppliedAt: time.Now().UTC(),
	}

	if existing, ok := m.visible[entityID]; ok {
		entry.Before = cloneFields(existing.Fields)
	}

	switch op {
	case OpDelete:
		delete(m.visible, entityID)
	default:
		m.visible[entityID] = &Entity{
			ID:     entityID,
			Kind:   kind,
			Fields: cloneFields(proposed),
		}
	}

	m.pending[tempID] = entry
	return nil
}

// Commit replaces the optimistic effect with authoritative state and
// removes the entry. Committing an already-resolved temp ID is a no-op,
// so duplicate confirmations from network retries cannot double-apply.
func (m *Manager) Commit(tempID string, authoritative map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[tempID]
	if !ok {
		return
	}

	switch entry.Op {
	case OpDelete:
		delete(m.visible, entry.EntityID)
	default:
		m.visible[entry.EntityID] = &Entity{
			ID:     entry.EntityID,
			Kind:   entry.Kind,
			Fields: cloneFields(authoritative),
		}
	}

	delete(m.pending, tempID)
}

// Rollback reverts client-visible state to the entry's pre-mutation
// snapshot and removes the entry. A pure create has no snapshot, so the
// optimistic object disappears entirely. Rolling back an already-resolved
// temp ID is a no-op.
func (m *Manager) Rollback(tempID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[tempID]
	if !ok {
		return
	}

	if entry.Before == nil {
		delete(m.visible, entry.EntityID)
	} else {
		m.visible[entry.EntityID] = &Entity{
			ID:     entry.EntityID,
			Kind:   entry.Kind,
			Fields: cloneFields(entry.Before),
		}
	}

	delete(m.pending, tempID)
}

// Get returns the client-visible fields for an entity
func (m *Manager) Get(entityID core.EntityID) (*Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.visible[entityID]
	if !ok {
		return nil, false
	}
	return &Entity{ID: e.ID, Kind: e.Kind, Fields: cloneFields(e.Fields)}, true
}

// Pending reports whether a temp ID is still unresolved
func (m *Manager) Pending(tempID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.pending[tempID]
	return ok
}

// PendingCount returns the number of unresolved entries
func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.pending)
}

// Snapshot serializes visible state to a plain keyed structure for the
// storage boundary. Callers get copies; mutating the result never leaks
// back into the manager.
func (m *Manager) Snapshot() map[string]map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]any, len(m.visible))
	for id, e := range m.visible {
		fields := cloneFields(e.Fields)
		fields["kind"] = string(e.Kind)
		out[string(id)] = fields
	}

	return out
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
