package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// DefaultIdleTTL applies when NewManager receives a non-positive TTL.
const DefaultIdleTTL = 5 * time.Minute

type entry struct {
	mu         sync.Mutex
	id         string
	turns      []Turn
	createdAt  time.Time
	lastActive time.Time
	removed    bool

	// gate holds one token while an exchange is in flight for this session.
	gate chan struct{}
}

func (e *entry) snapshot() *Snapshot {
	turns := make([]Turn, len(e.turns))
	copy(turns, e.turns)
	return &Snapshot{
		ID:         e.id,
		Turns:      turns,
		CreatedAt:  e.createdAt,
		LastActive: e.lastActive,
	}
}

func (e *entry) summary() Summary {
	return Summary{ID: e.id, TotalMessages: len(e.turns), LastActive: e.lastActive}
}

func (e *entry) busy() bool {
	return len(e.gate) > 0
}

// Manager owns every conversation history in the process. The map lock only
// guards membership; each session's turns sit behind that session's own lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	idleTTL  time.Duration
	onExpire func(Summary)
	now      func() time.Time
}

func NewManager(idleTTL time.Duration) *Manager {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Manager{
		sessions: make(map[string]*entry),
		idleTTL:  idleTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// IdleTTL reports the inactivity threshold used by the janitor.
func (m *Manager) IdleTTL() time.Duration {
	return m.idleTTL
}

func (m *Manager) SetExpireHook(hook func(Summary)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Resolve returns the session for id, refreshing its activity time. An empty,
// unknown or evicted id yields a brand new empty session; created reports that.
func (m *Manager) Resolve(id string) (snap *Snapshot, created bool) {
	if e := m.lookup(strings.TrimSpace(id)); e != nil {
		e.mu.Lock()
		if !e.removed {
			e.lastActive = m.now()
			snap = e.snapshot()
		}
		e.mu.Unlock()
		if snap != nil {
			return snap, false
		}
	}
	return m.create(), true
}

func (m *Manager) create() *Snapshot {
	now := m.now()
	e := &entry{
		id:         uuid.NewString(),
		createdAt:  now,
		lastActive: now,
		gate:       make(chan struct{}, 1),
	}

	m.mu.Lock()
	m.sessions[e.id] = e
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// Append adds one turn to the full history and returns a copy of the history
// as it stands right after the append.
func (m *Manager) Append(id string, turn Turn) ([]Turn, error) {
	e := m.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrNotFound
	}
	e.turns = append(e.turns, turn)
	e.lastActive = m.now()

	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out, nil
}

// Clear empties the history of id. Unknown ids are ignored.
func (m *Manager) Clear(id string) {
	e := m.lookup(strings.TrimSpace(id))
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	e.turns = nil
	e.lastActive = m.now()
}

func (m *Manager) History(id string) (*Snapshot, error) {
	e := m.lookup(strings.TrimSpace(id))
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrNotFound
	}
	return e.snapshot(), nil
}

// Acquire blocks until no other exchange is running for id. The returned
// release func must be called exactly once; extra calls are ignored.
func (m *Manager) Acquire(ctx context.Context, id string) (func(), error) {
	e := m.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-e.gate })
	}, nil
}

// List returns summaries ordered by most recent activity first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.summary())
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b Summary) int {
		return b.LastActive.Compare(a.LastActive)
	})
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than idle and returns how many were
// removed. Sessions with an exchange in flight are left alone.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	var expired []Summary

	m.mu.Lock()
	for id, e := range m.sessions {
		e.mu.Lock()
		stale := e.lastActive.Before(cutoff) && !e.busy()
		if stale {
			e.removed = true
			expired = append(expired, e.summary())
		}
		e.mu.Unlock()
		if stale {
			delete(m.sessions, id)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
	return len(expired)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(m.idleTTL)
			}
		}
	}()
}

func (m *Manager) lookup(id string) *entry {
	if id == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}
