package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Provider provides integration with an OIDC provider.
//  It's primary capabilities include:
//   * Kicking off a user authentication via either the authorization code flow
//     (with optional PKCE) and creating an appropriate auth URL.
//   * Exchanging an auth code from the authorization code flow for a token.
//   * Refreshing a token with the refresh_token grant.
//   * Verifying an id_token issued by a provider.
//   * Retrieving a user's OAuth claims from the provider's UserInfo endpoint.
//   * Building an RP-initiated logout URL.
type Provider struct {
	config   *Config
	provider *oidc.Provider

	// client uses a pooled transport that uses the config's ProviderCA if
	// provided, otherwise it will use the installed system CA chain.
	client *http.Client

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: refreshing JWKs Key sets, refreshing tokens, etc
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider.  Intializing the provider,
// includes making an http request to the provider's issuer.
//
// See Provider.Done() which must be called to release provider resources.
func NewProvider(c *Config) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	oidcCtx, err := p.HTTPClientContext(p.backgroundCtx)
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	provider, err := oidc.NewProvider(oidcCtx, c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		// we don't know what's causing the problem, so we won't classify the
		// error with a Kind
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	p.provider = provider

	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns a copy of the provider's configuration.
func (p *Provider) Config() Config {
	return *p.config
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with an IdP.  The redirectURL is the URL the IdP
// should use as a redirect after the authentication/authorization is completed
// by the user.  Providers and clients can choose to implement the
// authorization code flow with PKCE by using a Request with a CodeVerifier
// (see WithPKCE), and a silent check with WithPrompts(None).
//
//  See NewRequest() to create an oidc Request with a valid state and Nonce that
// will uniquely identify the user's authentication attempt throughout the flow.
func (p *Provider) AuthURL(ctx context.Context, oidcRequest Request) (url string, e error) {
	const op = "Provider.AuthURL"
	if oidcRequest == nil {
		return "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.State() == oidcRequest.Nonce() {
		return "", fmt.Errorf("%s: request id and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	if oidcRequest.IsExpired() {
		return "", fmt.Errorf("%s: request is expired: %w", op, ErrExpiredRequest)
	}
	if !p.config.IsAllowedRedirect(oidcRequest.RedirectURL()) {
		return "", fmt.Errorf("%s: redirect URL %s is not allowed: %w", op, oidcRequest.RedirectURL(), ErrUnauthorizedRedirectURI)
	}

	oauth2Config := p.oauth2Config(oidcRequest)
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(oidcRequest.Nonce()),
	}
	if v := oidcRequest.PKCEVerifier(); v != nil {
		authCodeOpts = append(authCodeOpts,
			oauth2.SetAuthURLParam("code_challenge", v.Challenge()),
			oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
		)
	}
	if prompts := oidcRequest.Prompts(); len(prompts) > 0 {
		values := make([]string, 0, len(prompts))
		for _, pr := range prompts {
			values = append(values, string(pr))
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", strings.Join(values, " ")))
	}
	return oauth2Config.AuthCodeURL(oidcRequest.State(), authCodeOpts...), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode and authorizationState it received in an earlier
// successful oidc authentication response.
//
// Exchange will use PKCE when the user's oidc Request specifies its use.
//
// It will also validate the authorizationState it receives against the
// existing Request for the user's oidc authentication flow.
//
// On success, the Token returned will include an IDToken and may
// include an AccessToken and RefreshToken.
//
// Any tokens returned will have been verified.
// See: Provider.VerifyIDToken for info about id_token verification.
func (p *Provider) Exchange(ctx context.Context, oidcRequest Request, authorizationState string, authorizationCode string) (*Tk, error) {
	const op = "Provider.Exchange"
	if p.config == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.State() != authorizationState {
		return nil, fmt.Errorf("%s: authentication request state and authorization state are not equal: %w", op, ErrInvalidResponseState)
	}
	if oidcRequest.IsExpired() {
		return nil, fmt.Errorf("%s: authentication request is expired: %w", op, ErrExpiredRequest)
	}
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidAuthorizationCode)
	}

	oidcCtx, err := p.HTTPClientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	oauth2Config := p.oauth2Config(oidcRequest)
	var authCodeOpts []oauth2.AuthCodeOption
	if v := oidcRequest.PKCEVerifier(); v != nil {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("code_verifier", v.Verifier()))
	}
	oauth2Token, err := oauth2Config.Exchange(oidcCtx, authorizationCode, authCodeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w: %w", op, ErrExchangeFailed, p.convertError(err))
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	t, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new id_token: %w", op, err)
	}
	if _, err := p.VerifyIDToken(ctx, t.IDToken(), oidcRequest); err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	return t, nil
}

// RefreshToken uses the refresh_token grant to obtain a new Token. The
// provider may rotate the refresh_token; when it doesn't, the returned Token
// keeps the one passed in. An id_token in the response is verified, but
// without a nonce since refresh responses carry no login nonce.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken RefreshToken) (*Tk, error) {
	const op = "Provider.RefreshToken"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrMissingRefreshToken)
	}
	oidcCtx, err := p.HTTPClientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	oauth2Config := p.oauth2Config(nil)
	// an empty access_token forces the token source to use the refresh grant
	oauth2Token, err := oauth2Config.TokenSource(oidcCtx, &oauth2.Token{RefreshToken: string(refreshToken)}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrRefreshFailed, p.convertError(err))
	}
	if oauth2Token.AccessToken == "" {
		return nil, fmt.Errorf("%s: refresh response has no access_token: %w", op, ErrMissingAccessToken)
	}

	idToken, _ := oauth2Token.Extra("id_token").(string)
	t, err := NewToken(IDToken(idToken), oauth2Token, WithNow(p.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create new token: %w", op, err)
	}
	if idToken != "" {
		if _, err := p.verifyIDToken(ctx, t.IDToken(), nil); err != nil {
			return nil, fmt.Errorf("%s: refreshed id_token failed verification: %w", op, err)
		}
	}
	return t, nil
}

// UserInfo gets the UserInfo claims from the provider using the token produced
// by the tokenSource.  Only JSON user info responses are supported (signed JWT
// responses are not).  The WithAudiences option is supported to specify
// optional audiences to verify when the aud claim is present in the response.
//
// It verifies:
//   * sub (sub) is required and must match
//   * issuer (iss) - if the iss claim is included in returned claims
//   * audiences (aud) - if the aud claim is included in returned claims and
//     WithAudiences option is provided.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#UserInfoResponse
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, validSubject string, claims interface{}) error {
	const op = "Provider.UserInfo"
	if tokenSource == nil {
		return fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	if validSubject == "" {
		return fmt.Errorf("%s: valid subject is empty: %w", op, ErrInvalidParameter)
	}

	oidcCtx, err := p.HTTPClientContext(ctx)
	if err != nil {
		return fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	userinfo, err := p.provider.UserInfo(oidcCtx, tokenSource)
	if err != nil {
		return fmt.Errorf("%s: provider UserInfo request failed: %w: %s", op, ErrUserInfoFailed, err)
	}
	type verifyClaims struct {
		Sub string
		Iss string
	}
	var vc verifyClaims
	if err := userinfo.Claims(&vc); err != nil {
		return fmt.Errorf("%s: failed to parse claims for UserInfo verification: %w", op, err)
	}
	if vc.Sub != validSubject {
		return fmt.Errorf("%s: %w", op, ErrUserInfoSubjectMismatch)
	}
	if vc.Iss != "" && vc.Iss != p.config.Issuer {
		return fmt.Errorf("%s: %w", op, ErrInvalidIssuer)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims: %w", op, err)
	}
	return nil
}

// VerifyIDToken will verify the inbound IDToken and return its claims.
// It verifies:
//   * signature (including if a supported signing algorithm was used)
//   * issuer (iss)
//   * expiration (exp)
//   * issued at (iat) (with a leeway of 1 min)
//   * not before (nbf) (with a leeway of 1 min)
//   * nonce (nonce)
//   * audience (aud) contains all audiences required from the provider's config
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, oidcRequest Request) (map[string]interface{}, error) {
	const op = "Provider.VerifyIDToken"
	if oidcRequest == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if oidcRequest.Nonce() == "" {
		return nil, fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}
	return p.verifyIDToken(ctx, t, oidcRequest)
}

// verifyIDToken does the work of VerifyIDToken. A nil oidcRequest skips the
// nonce check.
func (p *Provider) verifyIDToken(ctx context.Context, t IDToken, oidcRequest Request) (map[string]interface{}, error) {
	const op = "Provider.verifyIDToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	oidcConfig := &oidc.Config{
		SupportedSigningAlgs: algs,
		ClientID:             p.config.ClientID,
		Now:                  p.config.Now,
	}
	oidcCtx, err := p.HTTPClientContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	verifier := p.provider.Verifier(oidcConfig)
	oidcIDToken, err := verifier.Verify(oidcCtx, string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrIDTokenVerificationFailed, err)
	}

	if oidcRequest != nil && oidcIDToken.Nonce != oidcRequest.Nonce() {
		return nil, fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrInvalidNonce)
	}

	audiences := append([]string{}, p.config.Audiences...)
	if oidcRequest != nil {
		audiences = append(audiences, oidcRequest.Audiences()...)
	}
	for _, v := range audiences {
		if !contains(oidcIDToken.Audience, v) {
			return nil, fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrInvalidAudience)
		}
	}

	claims := map[string]interface{}{}
	if err := oidcIDToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to get id_token claims: %w", op, err)
	}
	return claims, nil
}

// EndSessionURL returns the provider's RP-initiated logout URL. The
// idTokenHint is optional, and postLogoutRedirectURL is where the provider
// sends the user once its session has ended.
//
// See: https://openid.net/specs/openid-connect-rpinitiated-1_0.html
func (p *Provider) EndSessionURL(idTokenHint IDToken, postLogoutRedirectURL string) (string, error) {
	const op = "Provider.EndSessionURL"
	var discovered struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.provider.Claims(&discovered); err != nil {
		return "", fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}
	if discovered.EndSessionEndpoint == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingEndSessionEndpoint)
	}
	u, err := url.Parse(discovered.EndSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("%s: end_session_endpoint %q is invalid: %w", op, discovered.EndSessionEndpoint, err)
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if postLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirectURL)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HTTPClient returns an http.Client for the provider. The returned client uses
// a pooled transport (so it can reuse connections) that uses the provider's
// config CA certificate PEM if provided, otherwise it will use the installed
// system CA chain.  This client's idle connections are closed in
// Provider.Done()
func (p *Provider) HTTPClient() (*http.Client, error) {
	const op = "Provider.HTTPClient"
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	c, err := p.config.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	p.client = c
	return p.client, nil
}

// HTTPClientContext returns a new Context that carries the provider's HTTP
// client. This method sets the same context key used by the
// github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the returned
// context works for those packages as well.
func (p *Provider) HTTPClientContext(ctx context.Context) (context.Context, error) {
	const op = "Provider.HTTPClientContext"
	c, err := p.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return HTTPClientContext(ctx, c), nil
}

// oauth2Config builds the x/oauth2 config for the provider. A request's
// scopes are added to the configured ones.
func (p *Provider) oauth2Config(oidcRequest Request) oauth2.Config {
	scopes := append([]string{}, p.config.Scopes...)
	if oidcRequest != nil {
		scopes = append(scopes, oidcRequest.Scopes()...)
	}
	redirectURL := ""
	if oidcRequest != nil {
		redirectURL = oidcRequest.RedirectURL()
	}
	endpoint := p.provider.Endpoint()
	if p.config.ClientSecret == "" {
		// public clients send their client_id in the form body
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       withOpenID(scopes),
	}
}

// convertError is used to convert errors from the oauth2 package into
// something more readable.
func (p *Provider) convertError(e error) error {
	if re, ok := e.(*oauth2.RetrieveError); ok {
		if re.Response != nil {
			return fmt.Errorf("%s\nResponse: %s", re.Response.Status, re.Body)
		}
		return fmt.Errorf("%s", re.Body)
	}
	return e
}

// withOpenID adds the required "openid" scope once, in front of the others.
func withOpenID(scopes []string) []string {
	out := []string{oidc.ScopeOpenID}
	for _, s := range scopes {
		if s == oidc.ScopeOpenID || contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
