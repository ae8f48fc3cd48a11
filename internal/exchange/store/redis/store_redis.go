package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"ssogate/internal/exchange/models"
	"ssogate/pkg/platform/sentinel"
)

const (
	// Redis key prefix for live exchange tokens
	tokenKeyPrefix = "sso:token:"
)

// Store is a Redis-backed exchange token store for Authority deployments
// with more than one instance. Create uses SET NX with a TTL and Consume uses
// GETDEL, so both removal paths (redemption and Redis key expiry) are single
// atomic server-side operations.
type Store struct {
	client  goredis.Cmdable
	idBytes int
	prefix  string
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

// WithKeyPrefix namespaces keys, e.g. per environment on a shared Redis.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New constructs a Redis-backed token store.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:  client,
		idBytes: models.DefaultTokenBytes,
		prefix:  tokenKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Create(ctx context.Context, identity models.Identity, lifetime time.Duration) (string, error) {
	lifetime = models.LifetimeOrDefault(lifetime)
	payload, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("encode identity: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		id, err := models.NewTokenID(s.idBytes)
		if err != nil {
			return "", err
		}
		created, err := s.client.SetNX(ctx, s.key(id), payload, lifetime).Result()
		if err != nil {
			return "", fmt.Errorf("store exchange token: %w: %w", sentinel.ErrUnavailable, err)
		}
		if created {
			return id, nil
		}
	}
	return "", fmt.Errorf("token id collision: %w", sentinel.ErrInvalidState)
}

func (s *Store) Consume(ctx context.Context, id string) (models.Identity, error) {
	raw, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return models.Identity{}, fmt.Errorf("exchange token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("consume exchange token: %w: %w", sentinel.ErrUnavailable, err)
	}

	var identity models.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return models.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	return identity, nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}
