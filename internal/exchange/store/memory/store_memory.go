package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ssogate/internal/exchange/models"
	"ssogate/internal/platform/metrics"
	"ssogate/pkg/platform/sentinel"
)

// Clock returns the current time. Injected for tests.
type Clock func() time.Time

type entry struct {
	token models.Token
	timer *time.Timer
}

// Store keeps exchange tokens in process memory. Every removal, whether by
// Consume or by the expiry timer, goes through take under the same lock, so
// a token is handed out at most once. A restart loses all live tokens.
type Store struct {
	mu      sync.Mutex
	tokens  map[string]*entry
	idBytes int
	clock   Clock
	metrics *metrics.Exchange
}

// Option configures a Store.
type Option func(*Store)

// WithTokenBytes sets the entropy of generated ids.
func WithTokenBytes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.idBytes = n
		}
	}
}

// WithClock sets the clock used for deadline checks.
func WithClock(clock Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetrics counts expiries.
func WithMetrics(m *metrics.Exchange) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New constructs an empty in-memory token store.
func New(opts ...Option) *Store {
	s := &Store{
		tokens:  make(map[string]*entry),
		idBytes: models.DefaultTokenBytes,
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create stores identity under a fresh id and schedules its purge after
// lifetime (models.DefaultTokenLifetime when lifetime <= 0).
func (s *Store) Create(_ context.Context, identity models.Identity, lifetime time.Duration) (string, error) {
	lifetime = models.LifetimeOrDefault(lifetime)

	// 72 random bytes make a collision practically impossible; the retry
	// keeps a live id from ever being overwritten.
	for attempt := 0; attempt < 3; attempt++ {
		id, err := models.NewTokenID(s.idBytes)
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		if _, exists := s.tokens[id]; exists {
			s.mu.Unlock()
			continue
		}
		now := s.clock()
		e := &entry{token: models.Token{
			ID:        id,
			Identity:  identity,
			CreatedAt: now,
			ExpiresAt: now.Add(lifetime),
		}}
		e.timer = time.AfterFunc(lifetime, func() { s.expire(id, e) })
		s.tokens[id] = e
		s.mu.Unlock()
		return id, nil
	}
	return "", fmt.Errorf("token id collision: %w", sentinel.ErrInvalidState)
}

// Consume removes and returns the identity for id. Only the first caller for
// a live id receives it.
func (s *Store) Consume(_ context.Context, id string) (models.Identity, error) {
	e, ok := s.take(id, nil)
	if !ok {
		return models.Identity{}, fmt.Errorf("exchange token not found: %w", sentinel.ErrNotFound)
	}
	// The timer may lag behind the deadline; a token past it is gone.
	if e.token.IsExpired(s.clock()) {
		s.metrics.IncExpired()
		return models.Identity{}, fmt.Errorf("exchange token not found: %w", sentinel.ErrNotFound)
	}
	return e.token.Identity, nil
}

// Len reports the number of live tokens.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Close stops all pending timers and drops every live token.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.tokens {
		e.timer.Stop()
		delete(s.tokens, id)
	}
}

func (s *Store) expire(id string, e *entry) {
	if _, ok := s.take(id, e); ok {
		s.metrics.IncExpired()
	}
}

// take is the single removal primitive. When want is non-nil the entry is
// only removed if it is still the one the caller scheduled.
func (s *Store) take(id string, want *entry) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[id]
	if !ok || (want != nil && e != want) {
		return nil, false
	}
	delete(s.tokens, id)
	e.timer.Stop()
	return e, true
}
