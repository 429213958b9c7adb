package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/protezlab/reportgate/jwt"
	"github.com/protezlab/reportgate/oidc"
	"github.com/protezlab/reportgate/oidc/callback"
)

// Client is the auth client for a single Keycloak realm. It wraps an
// oidc.Provider for the protocol work and reports what happens through
// its lifecycle event and tokens hooks.
//
// A Client must be initialized with Init before use, and Close must be
// called to release its resources.
type Client struct {
	realm       RealmConfig
	secret      oidc.ClientSecret
	redirectURL string
	opts        clientOptions
	logger      hclog.Logger

	mu        sync.RWMutex
	provider  *oidc.Provider
	validator *jwt.Validator

	// backgroundCtx is used for fetching the realm's keys, which can happen
	// long after the request that triggered Init has finished.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
}

// New creates a Client for the realm. The secret may be empty for a public
// client. The redirectURL is where the realm sends the browser back to after
// authentication.
//
// Supported options: WithLogger, WithProviderCA, WithScopes,
// WithSigningAlgs, WithEventHandler, WithTokensHandler, WithInitOptions,
// WithNow
func New(realm RealmConfig, secret oidc.ClientSecret, redirectURL string, opt ...Option) (*Client, error) {
	const op = "keycloak.New"
	if err := realm.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid realm config: %w", op, err)
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	if _, err := url.Parse(redirectURL); err != nil {
		return nil, fmt.Errorf("%s: redirect URL %q is invalid: %w", op, redirectURL, ErrInvalidParameter)
	}
	opts := getClientOpts(opt...)
	switch opts.withInitOptions.PKCEMethod {
	case "", oidc.S256:
	default:
		return nil, fmt.Errorf("%s: %s: %w", op, opts.withInitOptions.PKCEMethod, oidc.ErrUnsupportedChallengeMethod)
	}
	switch opts.withInitOptions.OnLoad {
	case CheckSSO, LoginRequired:
	default:
		return nil, fmt.Errorf("%s: unknown onLoad %q: %w", op, opts.withInitOptions.OnLoad, ErrInvalidParameter)
	}
	return &Client{
		realm:       realm,
		secret:      secret,
		redirectURL: redirectURL,
		opts:        opts,
		logger:      opts.withLogger,
	}, nil
}

// Init discovers the realm. The realm's keys are fetched when the first
// access token is verified. It emits OnReady on success and OnInitError on failure. Calling
// Init on an initialized client does nothing.
func (c *Client) Init(ctx context.Context) error {
	const op = "Client.Init"
	initialized, err := c.initOnce(ctx)
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		c.emit(ctx, OnInitError, err)
		return err
	}
	if initialized {
		c.logger.Info("realm initialized", "issuer", c.realm.Issuer(), "client_id", c.realm.ClientID)
		c.emit(ctx, OnReady, nil)
	}
	return nil
}

// initOnce reports whether this call did the initialization. Hooks are
// emitted by the caller, outside the lock.
func (c *Client) initOnce(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider != nil {
		return false, nil
	}
	if err := c.init(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfgOpts := []oidc.Option{
		oidc.WithScopes(c.opts.withScopes...),
		oidc.WithProviderCA(c.opts.withProviderCA),
		oidc.WithNow(c.opts.withNowFunc),
	}
	cfg, err := oidc.NewConfig(c.realm.Issuer(), c.realm.ClientID, c.secret, c.opts.withSigningAlgs, []string{c.redirectURL}, cfgOpts...)
	if err != nil {
		return err
	}
	p, err := oidc.NewProvider(cfg)
	if err != nil {
		return err
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	ks, err := jwt.NewJSONWebKeySet(bgCtx, c.realm.CertsURL(), c.opts.withProviderCA)
	if err != nil {
		cancel()
		p.Done()
		return err
	}
	v, err := jwt.NewValidator(ks)
	if err != nil {
		cancel()
		p.Done()
		return err
	}
	c.provider = p
	c.validator = v
	c.backgroundCtx = bgCtx
	c.backgroundCtxCancel = cancel
	return nil
}

// Close releases the client's resources. It is safe to call more than once.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backgroundCtxCancel != nil {
		c.backgroundCtxCancel()
		c.backgroundCtxCancel = nil
	}
	c.provider.Done()
}

func (c *Client) Realm() RealmConfig       { return c.realm }                // Realm returns the client's realm config.
func (c *Client) InitOptions() InitOptions { return c.opts.withInitOptions } // InitOptions returns the client's init options.
func (c *Client) RedirectURL() string      { return c.redirectURL }          // RedirectURL returns the client's callback URL.
func (c *Client) Logger() hclog.Logger     { return c.logger }               // Logger returns the client's logger.

// Provider returns the client's oidc.Provider, or ErrNotInitialized before
// Init succeeded.
func (c *Client) Provider() (*oidc.Provider, error) {
	const op = "Client.Provider"
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.provider == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	return c.provider, nil
}

// NewLoginRequest creates the request for one authentication attempt. It
// carries a PKCE verifier when the client's PKCEMethod is S256. A silent
// request asks the realm not to prompt (check-sso).
func (c *Client) NewLoginRequest(silent bool) (*oidc.Req, error) {
	const op = "Client.NewLoginRequest"
	var opts []oidc.Option
	if c.opts.withInitOptions.PKCEMethod == oidc.S256 {
		v, err := oidc.NewCodeVerifier()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		opts = append(opts, oidc.WithPKCE(v))
	}
	if silent {
		opts = append(opts, oidc.WithPrompts(oidc.None))
	}
	if c.opts.withNowFunc != nil {
		opts = append(opts, oidc.WithNow(c.opts.withNowFunc))
	}
	req, err := oidc.NewRequest(c.opts.withInitOptions.StateTTL, c.redirectURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

// LoginURL returns the realm URL that starts the authentication for req.
func (c *Client) LoginURL(ctx context.Context, req oidc.Request) (string, error) {
	const op = "Client.LoginURL"
	p, err := c.Provider()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	u, err := p.AuthURL(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// CallbackHandler returns the handler for the realm's redirect back to the
// client. A failed callback emits OnAuthError before eFn is called, except
// for a login_required answer to a silent request, which only means the
// user isn't signed in. sFn should call Authenticated once it accepts the
// tokens.
func (c *Client) CallbackHandler(rr callback.RequestReader, sFn callback.SuccessResponseFunc, eFn callback.ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "Client.CallbackHandler"
	p, err := c.Provider()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if eFn == nil {
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, ErrNilParameter)
	}
	onError := func(state string, respErr *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		switch {
		case respErr.IsLoginRequired():
			c.logger.Debug("check-sso: not signed in", "state", state)
		case respErr != nil:
			c.emit(req.Context(), OnAuthError, &AuthError{Code: respErr.Error, Description: respErr.Description})
		default:
			c.emit(req.Context(), OnAuthError, e)
		}
		eFn(state, respErr, e, w, req)
	}
	h, err := callback.AuthCode(p, rr, sFn, onError)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return h, nil
}

// Authenticated reports a successful authentication: it emits OnAuthSuccess
// and hands the tokens to the tokens hooks.
func (c *Client) Authenticated(ctx context.Context, t oidc.Token) {
	c.emit(ctx, OnAuthSuccess, nil)
	c.emitTokens(ctx, TokensOf(t))
}

// AuthFailed reports a failed authentication that was rejected after the
// code exchange, by emitting OnAuthError.
func (c *Client) AuthFailed(ctx context.Context, err error) {
	c.emit(ctx, OnAuthError, err)
}

// TokenExpired emits OnTokenExpired.
func (c *Client) TokenExpired(ctx context.Context) {
	c.emit(ctx, OnTokenExpired, nil)
}

// Refresh exchanges the refresh token for new tokens. On success it emits
// OnAuthRefreshSuccess and hands the tokens to the tokens hooks, otherwise
// it emits OnAuthRefreshError.
func (c *Client) Refresh(ctx context.Context, rt oidc.RefreshToken) (oidc.Token, error) {
	const op = "Client.Refresh"
	p, err := c.Provider()
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		c.emit(ctx, OnAuthRefreshError, err)
		return nil, err
	}
	t, err := p.RefreshToken(ctx, rt)
	if err != nil {
		err = fmt.Errorf("%s: %w", op, err)
		c.emit(ctx, OnAuthRefreshError, err)
		return nil, err
	}
	c.emit(ctx, OnAuthRefreshSuccess, nil)
	c.emitTokens(ctx, TokensOf(t))
	return t, nil
}

// Logout emits OnAuthLogout and returns the URL that ends the user's realm
// session. The idTokenHint and postLogoutRedirectURL are optional. Realms
// that don't advertise an end_session_endpoint get the standard Keycloak
// logout URL.
func (c *Client) Logout(ctx context.Context, idTokenHint oidc.IDToken, postLogoutRedirectURL string) (string, error) {
	const op = "Client.Logout"
	p, err := c.Provider()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	u, err := p.EndSessionURL(idTokenHint, postLogoutRedirectURL)
	switch {
	case errors.Is(err, oidc.ErrMissingEndSessionEndpoint):
		u = c.fallbackLogoutURL(idTokenHint, postLogoutRedirectURL)
	case err != nil:
		return "", fmt.Errorf("%s: %w", op, err)
	}
	c.emit(ctx, OnAuthLogout, nil)
	return u, nil
}

func (c *Client) fallbackLogoutURL(idTokenHint oidc.IDToken, postLogoutRedirectURL string) string {
	v := url.Values{}
	v.Set("client_id", c.realm.ClientID)
	if postLogoutRedirectURL != "" {
		v.Set("post_logout_redirect_uri", postLogoutRedirectURL)
	}
	if idTokenHint != "" {
		v.Set("id_token_hint", string(idTokenHint))
	}
	return c.realm.LogoutURL() + "?" + v.Encode()
}

// VerifyAccessToken verifies the access token's signature against the
// realm's keys and checks its issuer, algorithm and lifetime. Its
// authorized party (azp) must be this client.
func (c *Client) VerifyAccessToken(ctx context.Context, token oidc.AccessToken) (*Claims, error) {
	const op = "Client.VerifyAccessToken"
	if token == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidToken)
	}
	c.mu.RLock()
	v := c.validator
	c.mu.RUnlock()
	if v == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	algs := make([]jwt.Alg, 0, len(c.opts.withSigningAlgs))
	for _, a := range c.opts.withSigningAlgs {
		algs = append(algs, jwt.Alg(a))
	}
	expected := jwt.Expected{
		Issuer:            c.realm.Issuer(),
		SigningAlgorithms: algs,
		Now:               c.opts.withNowFunc,
	}
	raw, err := v.Validate(ctx, string(token), expected, jwt.WithAuthorizedParty(c.realm.ClientID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}
	claims, err := NewClaims(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

// Expiry returns the access token's exp claim, without verifying the token.
func (c *Client) Expiry(token oidc.AccessToken) (time.Time, error) {
	const op = "Client.Expiry"
	var claims struct {
		Expiry int64 `json:"exp"`
	}
	if err := oidc.UnmarshalClaims(string(token), &claims); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}
	if claims.Expiry == 0 {
		return time.Time{}, fmt.Errorf("%s: no exp claim: %w", op, ErrInvalidToken)
	}
	return time.Unix(claims.Expiry, 0), nil
}

// Remaining returns how long the access token's exp claim leaves, without
// verifying the token. It returns zero for an expired or unreadable token.
func (c *Client) Remaining(token oidc.AccessToken) time.Duration {
	exp, err := c.Expiry(token)
	if err != nil {
		return 0
	}
	d := exp.Sub(c.now())
	if d < 0 {
		return 0
	}
	return d
}

// Now returns the client's clock (see WithNow).
func (c *Client) Now() time.Time { return c.now() }

func (c *Client) now() time.Time {
	if c.opts.withNowFunc != nil {
		return c.opts.withNowFunc()
	}
	return time.Now()
}

func (c *Client) emit(ctx context.Context, event Event, err error) {
	if err != nil {
		c.logger.Error("auth event", "event", event, "error", err)
	}
	for _, fn := range c.opts.withEventHandlers {
		fn(ctx, event, err)
	}
}

func (c *Client) emitTokens(ctx context.Context, tokens Tokens) {
	for _, fn := range c.opts.withTokensHandlers {
		fn(ctx, tokens)
	}
}
