package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
)

// MemoryStore keeps alerts in process. All reads and writes copy, so callers
// never share an *alert.Alert with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	alerts   map[string]*alert.Alert
	order    []string
	live     map[string]string // fingerprint -> id
	archived map[string]time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:   make(map[string]*alert.Alert),
		live:     make(map[string]string),
		archived: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *alert.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[a.ID]; ok {
		return ErrAlreadyExists
	}
	if a.Live() {
		if _, ok := s.live[a.Fingerprint]; ok {
			return ErrDuplicateFingerprint
		}
		s.live[a.Fingerprint] = a.ID
	}
	s.alerts[a.ID] = a.Clone()
	s.order = append(s.order, a.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) FindLive(ctx context.Context, fingerprint string) (*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.live[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	return s.alerts[id].Clone(), nil
}

// List returns matching alerts in creation order.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*alert.Alert, 0, len(s.order))
	for _, id := range s.order {
		a := s.alerts[id]
		if !f.Match(a) {
			continue
		}
		out = append(out, a.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, a *alert.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.alerts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if prev.Fingerprint != a.Fingerprint || (!prev.Live() && a.Live()) {
		return ErrInvalidUpdate
	}
	if !a.Live() && s.live[a.Fingerprint] == a.ID {
		delete(s.live, a.Fingerprint)
	}
	s.alerts[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) ListUnarchived(ctx context.Context, limit int) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, id := range s.order {
		a := s.alerts[id]
		if !a.Resolved() {
			continue
		}
		if _, done := s.archived[id]; done {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return ErrNotFound
	}
	s.archived[id] = at.UTC()
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }
