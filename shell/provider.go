package shell

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/protezlab/reportgate/keycloak"
)

// AuthState is what the Provider learned about the request's user.
type AuthState struct {
	Authenticated bool
	Tokens        keycloak.Tokens
	Claims        *keycloak.Claims
}

type authStateKey struct{}

// FromContext returns the AuthState the Provider stored in ctx. A request
// that didn't go through a Provider is anonymous.
func FromContext(ctx context.Context) AuthState {
	if s, ok := ctx.Value(authStateKey{}).(AuthState); ok {
		return s
	}
	return AuthState{}
}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s AuthState) context.Context {
	return context.WithValue(ctx, authStateKey{}, s)
}

// Provider returns the handler that puts the user's AuthState in the
// request context before calling child. For every request it:
//  * reads the token cookies
//  * accepts an access token with more than MinValidity left
//  * emits OnTokenExpired when the access token's exp has passed; an
//    unreadable access token is ignored
//  * otherwise refreshes with the refresh token, which rewrites the cookies
//    through the client's tokens hooks
//  * otherwise treats the user as anonymous, or redirects to the login
//    route when the client's OnLoad is login-required
//
// The client's tokens hooks need the response, so the request context
// given to them carries it (see WithResponseWriter).
//
// Supported options: WithLogger, WithLoginPath
func Provider(c *keycloak.Client, cookies *CookieStore, child http.Handler, opt ...Option) (http.Handler, error) {
	const op = "shell.Provider"
	if c == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	if cookies == nil {
		return nil, fmt.Errorf("%s: cookie store is nil: %w", op, ErrNilParameter)
	}
	if child == nil {
		return nil, fmt.Errorf("%s: child is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	p := &provider{
		client:    c,
		cookies:   cookies,
		child:     child,
		logger:    opts.withLogger,
		loginPath: opts.withLoginPath,
	}
	return p, nil
}

type provider struct {
	client    *keycloak.Client
	cookies   *CookieStore
	child     http.Handler
	logger    hclog.Logger
	loginPath string
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := WithResponseWriter(r.Context(), w)
	state := p.authenticate(ctx, w, r)
	if !state.Authenticated && p.client.InitOptions().OnLoad == keycloak.LoginRequired {
		http.Redirect(w, r, p.loginPath, http.StatusFound)
		return
	}
	p.child.ServeHTTP(w, r.WithContext(NewContext(ctx, state)))
}

func (p *provider) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) AuthState {
	tokens := p.cookies.Tokens(r)
	state := AuthState{Tokens: tokens}
	minValidity := p.client.InitOptions().MinValidity

	if tokens.Token != "" {
		_, err := p.client.Expiry(tokens.Token)
		remaining := p.client.Remaining(tokens.Token)
		switch {
		case err != nil:
			// unreadable, handled like a missing token
			p.logger.Debug("access token cookie unreadable", "error", err)
		case remaining > minValidity:
			claims, err := p.client.VerifyAccessToken(ctx, tokens.Token)
			if err == nil {
				state.Authenticated = true
				state.Claims = claims
				return state
			}
			p.logger.Debug("access token rejected", "error", err)
		case remaining == 0:
			p.client.TokenExpired(ctx)
		}
	}
	if tokens.RefreshToken == "" {
		return state
	}

	tk, err := p.client.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		// the refresh token is dead, so is the session
		p.cookies.Clear(w, TokenCookieNames...)
		return AuthState{}
	}
	refreshed := keycloak.TokensOf(tk)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	if refreshed.IDToken == "" {
		refreshed.IDToken = tokens.IDToken
	}
	claims, err := p.client.VerifyAccessToken(ctx, refreshed.Token)
	if err != nil {
		p.logger.Warn("refreshed access token rejected", "error", err)
		return AuthState{Tokens: refreshed}
	}
	return AuthState{Authenticated: true, Tokens: refreshed, Claims: claims}
}
