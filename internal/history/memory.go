package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"pdfchat/internal/domain"
)

// DefaultMaxSessions bounds the in-memory store; least recently used sessions go first.
const DefaultMaxSessions = 1024

// MemoryStore keeps histories in process memory. Sessions idle longer than
// the TTL (when set) or pushed out by the LRU bound are forgotten.
type MemoryStore struct {
	mu    sync.Mutex
	cache gcache.Cache
	ttl   time.Duration
}

// NewMemoryStore creates a store holding at most maxSessions histories.
func NewMemoryStore(maxSessions int, ttl time.Duration, logger *slog.Logger) *MemoryStore {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache := gcache.New(maxSessions).
		LRU().
		EvictedFunc(func(key, _ interface{}) {
			logger.Debug("session history evicted", "session", key)
		}).
		Build()
	return &MemoryStore{cache: cache, ttl: ttl}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, sessionID string) (History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.cache.Get(sessionID)
	switch {
	case err == nil:
		h := v.(*MemoryHistory)
		if s.ttl > 0 {
			if err := s.cache.SetWithExpire(sessionID, h, s.ttl); err != nil {
				return nil, err
			}
		}
		return h, nil
	case errors.Is(err, gcache.KeyNotFoundError):
	default:
		return nil, err
	}

	h := &MemoryHistory{}
	if s.ttl > 0 {
		err = s.cache.SetWithExpire(sessionID, h, s.ttl)
	} else {
		err = s.cache.Set(sessionID, h)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(sessionID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}

// MemoryHistory is the mutex-guarded transcript handed out by MemoryStore.
type MemoryHistory struct {
	mu   sync.RWMutex
	msgs []domain.Message
}

func (h *MemoryHistory) Messages(context.Context) ([]domain.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Message, len(h.msgs))
	copy(out, h.msgs)
	return out, nil
}

func (h *MemoryHistory) Append(_ context.Context, msgs ...domain.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msgs...)
	return nil
}

func (h *MemoryHistory) Clear(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
	return nil
}

func (h *MemoryHistory) Len(context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs), nil
}

var _ Store = (*MemoryStore)(nil)
