package pending

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streampay/backend/internal/models"
)

type entry struct {
	p         *models.PendingSession
	expiresAt time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	log     *zap.Logger
}

func NewMemoryStore(log *zap.Logger) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
		log:     log,
	}
}

func (s *MemoryStore) Put(_ context.Context, p *models.PendingSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.ID.String()] = entry{p: p, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.PendingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}
	return e.p, nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (*models.PendingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, id)
	if !s.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	return e.p, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run purges on every tick until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Purge(); n > 0 {
				s.log.Info("purged expired pending sessions", zap.Int("count", n))
			}
		}
	}
}
