package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/protezlab/reportgate/oidc"
	"github.com/protezlab/reportgate/oidc/callback"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrMissingHTTP      = errors.New("request context carries no http request or response")
)

// Store keeps the pending login requests between the redirect to the realm
// and the realm's redirect back. A request can be read back until it
// expires or is deleted.
type Store interface {
	callback.RequestReader
	callback.RequestDeleter

	// Add stores the request until its expiry. The response is only used by
	// stores that keep the request in the browser.
	Add(ctx context.Context, w http.ResponseWriter, req oidc.Request) error
}

// Snapshot is the serialized form of a pending login request.
type Snapshot struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	RedirectURL  string    `json:"redirect_url"`
	Expiry       time.Time `json:"expiry"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	Silent       bool      `json:"silent,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	Audiences    []string  `json:"audiences,omitempty"`
}

// NewSnapshot returns the Snapshot of req.
func NewSnapshot(req oidc.Request) (Snapshot, error) {
	const op = "session.NewSnapshot"
	if req == nil {
		return Snapshot{}, fmt.Errorf("%s: request is nil: %w", op, ErrInvalidParameter)
	}
	s := Snapshot{
		State:       req.State(),
		Nonce:       req.Nonce(),
		RedirectURL: req.RedirectURL(),
		Expiry:      req.Expiry(),
		Silent:      oidc.IsSilent(req),
		Scopes:      req.Scopes(),
		Audiences:   req.Audiences(),
	}
	if v := req.PKCEVerifier(); v != nil {
		s.CodeVerifier = v.Verifier()
	}
	return s, nil
}

// Request rebuilds the login request as of now, keeping its expiry. A
// snapshot expired at now can't be rebuilt and returns
// oidc.ErrExpiredRequest. A nil now means time.Now.
func (s Snapshot) Request(now func() time.Time) (*oidc.Req, error) {
	const op = "Snapshot.Request"
	if now == nil {
		now = time.Now
	}
	expireIn := s.Expiry.Sub(now())
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: %w", op, oidc.ErrExpiredRequest)
	}
	opts := []oidc.Option{
		oidc.WithState(s.State),
		oidc.WithNonce(s.Nonce),
		oidc.WithScopes(s.Scopes...),
		oidc.WithAudiences(s.Audiences...),
		oidc.WithNow(now),
	}
	if s.CodeVerifier != "" {
		v, err := oidc.ParseCodeVerifier(s.CodeVerifier)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, oidc.WithPKCE(v))
	}
	if s.Silent {
		opts = append(opts, oidc.WithPrompts(oidc.None))
	}
	req, err := oidc.NewRequest(expireIn, s.RedirectURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

type httpKey struct{}

type httpPair struct {
	w http.ResponseWriter
	r *http.Request
}

// WithHTTP attaches the request and its response to ctx, for stores that
// keep login requests in cookies.
func WithHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	return context.WithValue(ctx, httpKey{}, httpPair{w: w, r: r})
}

func httpFromContext(ctx context.Context) (http.ResponseWriter, *http.Request, bool) {
	p, ok := ctx.Value(httpKey{}).(httpPair)
	if !ok {
		return nil, nil, false
	}
	return p.w, p.r, true
}

// Middleware attaches every request and its response to the request
// context (see WithHTTP).
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithHTTP(r.Context(), w, r)))
	})
}
