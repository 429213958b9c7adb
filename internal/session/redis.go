package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/protezlab/reportgate/oidc"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix prefixes the keys of a RedisStore.
const DefaultRedisKeyPrefix = "reportgate:login:"

// RedisStore keeps pending login requests in redis, so any instance of the
// app can complete a login another one started.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a RedisStore using client. An empty prefix means
// DefaultRedisKeyPrefix.
//
// Supported options: WithNow
func NewRedisStore(client redis.UniversalClient, prefix string, opt ...Option) (*RedisStore, error) {
	const op = "session.NewRedisStore"
	if client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, ErrInvalidParameter)
	}
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	opts := getStoreOpts(opt...)
	return &RedisStore{client: client, prefix: prefix, now: opts.withNowFunc}, nil
}

// Add stores the request under a key that expires with it.
func (s *RedisStore) Add(ctx context.Context, _ http.ResponseWriter, req oidc.Request) error {
	const op = "RedisStore.Add"
	snap, err := NewSnapshot(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ttl := snap.Expiry.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("%s: %w", op, oidc.ErrExpiredRequest)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.client.Set(ctx, s.prefix+snap.State, b, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Read returns the stored request.
func (s *RedisStore) Read(ctx context.Context, state string) (oidc.Request, error) {
	const op = "RedisStore.Read"
	b, err := s.client.Get(ctx, s.prefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: state %s: %w", op, state, oidc.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req, err := snap.Request(s.now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

// Delete the request.
func (s *RedisStore) Delete(ctx context.Context, state string) error {
	const op = "RedisStore.Delete"
	if err := s.client.Del(ctx, s.prefix+state).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
