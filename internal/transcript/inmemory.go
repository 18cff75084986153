package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultPerSessionLimit = 200

// InMemoryStore keeps the newest records per session for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	limit    int
	sessions map[string][]Record
}

func NewInMemoryStore(perSessionLimit int) *InMemoryStore {
	if perSessionLimit <= 0 {
		perSessionLimit = defaultPerSessionLimit
	}
	return &InMemoryStore{limit: perSessionLimit, sessions: make(map[string][]Record)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.sessions[record.SessionID], record)
	if over := len(arr) - s.limit; over > 0 {
		arr = append([]Record(nil), arr[over:]...)
	}
	s.sessions[record.SessionID] = arr
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.sessions[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Record, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

func (s *InMemoryStore) Close() error { return nil }
