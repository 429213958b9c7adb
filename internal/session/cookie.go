package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/protezlab/reportgate/oidc"
)

const (
	cookiePrefix = "rg_login_"
	requestValue = "request"
)

// CookieStore keeps each pending login request in its own signed and
// encrypted cookie, named after the request's state.
type CookieStore struct {
	store  *sessions.CookieStore
	secure bool
	now    func() time.Time
}

var _ Store = (*CookieStore)(nil)

// NewCookieStore returns a CookieStore. The hashKey signs the cookies and
// should be 32 or 64 bytes. The blockKey encrypts them and must be 16, 24
// or 32 bytes.
//
// Supported options: WithNow
func NewCookieStore(hashKey, blockKey []byte, secure bool, opt ...Option) (*CookieStore, error) {
	const op = "session.NewCookieStore"
	if len(hashKey) < 32 {
		return nil, fmt.Errorf("%s: hash key is shorter than 32 bytes: %w", op, ErrInvalidParameter)
	}
	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%s: block key must be 16, 24 or 32 bytes: %w", op, ErrInvalidParameter)
	}
	opts := getStoreOpts(opt...)
	return &CookieStore{
		store:  sessions.NewCookieStore(hashKey, blockKey),
		secure: secure,
		now:    opts.withNowFunc,
	}, nil
}

// options for the login cookies. They're SameSite=Lax whatever the token
// cookies use, since the realm's redirect back is a cross-site navigation.
func (s *CookieStore) options(maxAge int) *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   s.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Add writes the request's cookie to w.
func (s *CookieStore) Add(_ context.Context, w http.ResponseWriter, req oidc.Request) error {
	const op = "CookieStore.Add"
	if w == nil {
		return fmt.Errorf("%s: response writer is nil: %w", op, ErrInvalidParameter)
	}
	snap, err := NewSnapshot(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sess := sessions.NewSession(s.store, cookiePrefix+snap.State)
	sess.Values[requestValue] = string(b)
	ttl := snap.Expiry.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("%s: %w", op, oidc.ErrExpiredRequest)
	}
	sess.Options = s.options(int(ttl.Seconds()) + 1)
	if err := s.store.Save(nil, w, sess); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Read the request from the cookie of the request attached to ctx (see
// WithHTTP).
func (s *CookieStore) Read(ctx context.Context, state string) (oidc.Request, error) {
	const op = "CookieStore.Read"
	_, r, ok := httpFromContext(ctx)
	if !ok || r == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingHTTP)
	}
	sess, err := s.store.New(r, cookiePrefix+state)
	if err != nil || sess.IsNew {
		return nil, fmt.Errorf("%s: state %s: %w", op, state, oidc.ErrNotFound)
	}
	raw, ok := sess.Values[requestValue].(string)
	if !ok {
		return nil, fmt.Errorf("%s: state %s: %w", op, state, oidc.ErrNotFound)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req, err := snap.Request(s.now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

// Delete expires the request's cookie on the response attached to ctx.
func (s *CookieStore) Delete(ctx context.Context, state string) error {
	const op = "CookieStore.Delete"
	w, r, ok := httpFromContext(ctx)
	if !ok || w == nil {
		return fmt.Errorf("%s: %w", op, ErrMissingHTTP)
	}
	sess := sessions.NewSession(s.store, cookiePrefix+state)
	sess.Options = s.options(-1)
	if err := s.store.Save(r, w, sess); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
