package history

import (
	"sync"
	"time"

	"replyguard/internal/model"
)

// Store is a bounded, oldest-first buffer of recent decisions.
type Store struct {
	mu    sync.RWMutex
	buf   []model.DecisionEvent
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(ev model.DecisionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ev)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = ev
}

// List returns the newest limit events, oldest first. limit <= 0 means all.
func (s *Store) List(limit int) []model.DecisionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.DecisionEvent, limit)
	copy(out, s.buf[len(s.buf)-limit:])
	return out
}

func (s *Store) Since(ts time.Time) []model.DecisionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DecisionEvent, 0)
	for _, ev := range s.buf {
		if !ev.Timestamp.Before(ts) {
			out = append(out, ev)
		}
	}
	return out
}

// ForUser returns the buffered events for one identity, oldest first.
func (s *Store) ForUser(userID string) []model.DecisionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DecisionEvent, 0)
	for _, ev := range s.buf {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
