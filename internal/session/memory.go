package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/protezlab/reportgate/oidc"
)

// MemoryStore keeps pending login requests in process memory. It only
// works for a single instance of the app.
type MemoryStore struct {
	c   *gocache.Cache
	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore that purges expired requests every
// cleanup interval.
//
// Supported options: WithNow
func NewMemoryStore(cleanup time.Duration, opt ...Option) *MemoryStore {
	opts := getStoreOpts(opt...)
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, cleanup), now: opts.withNowFunc}
}

// Add stores the request until its expiry.
func (m *MemoryStore) Add(_ context.Context, _ http.ResponseWriter, req oidc.Request) error {
	const op = "MemoryStore.Add"
	snap, err := NewSnapshot(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ttl := snap.Expiry.Sub(m.now())
	if ttl <= 0 {
		return fmt.Errorf("%s: %w", op, oidc.ErrExpiredRequest)
	}
	m.c.Set(snap.State, snap, ttl)
	return nil
}

// Read returns a copy of the stored request.
func (m *MemoryStore) Read(_ context.Context, state string) (oidc.Request, error) {
	const op = "MemoryStore.Read"
	v, ok := m.c.Get(state)
	if !ok {
		return nil, fmt.Errorf("%s: state %s: %w", op, state, oidc.ErrNotFound)
	}
	snap, ok := v.(Snapshot)
	if !ok {
		return nil, fmt.Errorf("%s: state %s: %w", op, state, oidc.ErrNotFound)
	}
	req, err := snap.Request(m.now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

// Delete the request.
func (m *MemoryStore) Delete(_ context.Context, state string) error {
	m.c.Delete(state)
	return nil
}

// Len returns the number of stored requests, expired ones included until
// they're purged.
func (m *MemoryStore) Len() int { return m.c.ItemCount() }
