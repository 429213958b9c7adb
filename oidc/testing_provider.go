package oidc

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local TLS server that plays the part of an OIDC identity
// provider (a Keycloak realm, for our purposes) in tests. It supports:
//   * discovery, including an end_session_endpoint
//   * the authorization code flow with PKCE (S256) and prompt=none
//   * the authorization_code and refresh_token grants
//   * a JWKS endpoint, a userinfo endpoint and a logout endpoint
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	// issuerPath and endpointPrefix give the provider a Keycloak realm layout
	// when WithTestRealm is used.
	issuerPath     string
	endpointPrefix string

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	expectedAuthNonce   string
	expectedState       string
	customClaims        map[string]interface{}
	customAudience      string
	omitIDToken         bool
	omitRefreshToken    bool
	disableUserInfo     bool
	disableToken        bool
	disableEndSession   bool
	loginRequired       bool
	expiry              time.Duration

	// state recorded from the last /auth request
	lastNonce         string
	lastChallenge     string
	lastChallengeMeth string

	refreshTokens map[string]bool
	refreshCount  int
	logouts       []url.Values

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider listening on a random
// loopback port. It's stopped when the test completes.
//
// Supported options: WithTestRealm
func StartTestProvider(t *testing.T, opt ...Option) *TestProvider {
	t.Helper()
	require := require.New(t)
	opts := getTestProviderOpts(opt...)

	p := &TestProvider{
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		replySubject: "f:2c1f9b7e:alice",
		replyUserinfo: map[string]interface{}{
			"email":              "alice@example.com",
			"preferred_username": "alice",
		},
		expiry:        5 * time.Minute,
		refreshTokens: map[string]bool{},
		t:             t,
	}
	if opts.withRealm != "" {
		p.issuerPath = "/realms/" + opts.withRealm
		p.endpointPrefix = "/protocol/openid-connect"
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.Stop)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows. An empty secret makes the client public.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce configures the nonce value required for /auth and
// embedded in issued id_tokens.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetExpectedState configures the state value required for /auth.
func (p *TestProvider) SetExpectedState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedState = state
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured a sample of "https://example.com" is
// used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims lets you set claims to return in the JWTs issued by the
// OIDC workflow, for example realm_access.roles.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the JWT issued
// by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetSubject configures the sub claim of issued tokens and userinfo.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetUserInfoReply configures the claims returned by /userinfo, in addition
// to sub.
func (p *TestProvider) SetUserInfoReply(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// SetExpiry configures the lifetime of issued tokens. A negative duration
// issues tokens that are already expired.
func (p *TestProvider) SetExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiry = d
}

// SetLoginRequired makes /auth answer prompt=none requests with a
// login_required error, as a provider does when there's no session.
func (p *TestProvider) SetLoginRequired(required bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginRequired = required
}

// SetDisableToken makes the /token endpoint fail every request.
func (p *TestProvider) SetDisableToken(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableToken = disable
}

// SetDisableEndSession omits the end_session_endpoint from discovery. It must
// be called before a Provider discovers the test provider.
func (p *TestProvider) SetDisableEndSession(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = disable
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens makes the /token endpoint return no refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery config.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// LastCodeChallenge returns the PKCE code_challenge and method received by
// the last /auth request.
func (p *TestProvider) LastCodeChallenge() (challenge, method string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastChallenge, p.lastChallengeMeth
}

// RefreshCount returns the number of successful refresh_token grants.
func (p *TestProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCount
}

// Logouts returns the query of every request made to the logout endpoint.
func (p *TestProvider) Logouts() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values{}, p.logouts...)
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Issuer returns the provider's issuer, which is Addr() unless a realm was
// given with WithTestRealm.
func (p *TestProvider) Issuer() string { return p.Addr() + p.issuerPath }

// endpoint returns the URL of one of the provider's endpoints.
func (p *TestProvider) endpoint(name string) string {
	return p.Issuer() + p.endpointPrefix + name
}

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http.Client that trusts the test provider.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// Authorize plays the browser's part of the authorization code flow: it
// requests authURL and returns the query of the redirect back to the
// client (code and state, or error).
func (p *TestProvider) Authorize(authURL string) url.Values {
	p.t.Helper()
	require := require.New(p.t)
	client := *p.HTTPClient()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	return loc.Query()
}

// IssueAccessToken signs an access token the same way /token does, using the
// configured subject, expiry and custom claims.
func (p *TestProvider) IssueAccessToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signToken(p.audience(), "")
}

func (p *TestProvider) audience() jwt.Audience {
	if p.customAudience != "" {
		return jwt.Audience{p.customAudience}
	}
	return jwt.Audience{p.clientID}
}

// signToken must be called with p.mu held.
func (p *TestProvider) signToken(aud jwt.Audience, nonce string) string {
	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Issuer(),
		IssuedAt:  jwt.NewNumericDate(now.Add(-5 * time.Second)),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.expiry)),
		Audience:  aud,
	}
	private := map[string]interface{}{}
	if p.clientID != "" {
		private["azp"] = p.clientID
	}
	for k, v := range p.customClaims {
		private[k] = v
	}
	if nonce != "" {
		private["nonce"] = nonce
	}
	return TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, private)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// clientAuthenticated checks the client credentials of a /token request,
// from either basic auth or the form.
func (p *TestProvider) clientAuthenticated(req *http.Request) bool {
	id, secret, ok := req.BasicAuth()
	if !ok {
		id, secret = req.FormValue("client_id"), req.FormValue("client_secret")
	}
	return id == p.clientID && secret == p.clientSecret
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	path := strings.TrimPrefix(req.URL.Path, p.issuerPath)
	if path != "/.well-known/openid-configuration" {
		path = strings.TrimPrefix(path, p.endpointPrefix)
	}
	switch path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			UserinfoEndpoint   string   `json:"userinfo_endpoint,omitempty"`
			EndSessionEndpoint string   `json:"end_session_endpoint,omitempty"`
			ChallengeMethods   []string `json:"code_challenge_methods_supported"`
			SigningAlgs        []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:             p.Issuer(),
			AuthEndpoint:       p.endpoint("/auth"),
			TokenEndpoint:      p.endpoint("/token"),
			JWKSURI:            p.endpoint("/certs"),
			UserinfoEndpoint:   p.endpoint("/userinfo"),
			EndSessionEndpoint: p.endpoint("/logout"),
			ChallengeMethods:   []string{string(S256)},
			SigningAlgs:        []string{string(ES256)},
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		if p.disableEndSession {
			reply.EndSessionEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !contains(strings.Fields(qv.Get("scope")), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		}
		if qv.Get("client_id") != p.clientID {
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
			return
		}

		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}
		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}
		if p.expectedState != "" && p.expectedState != state {
			p.writeAuthErrorResponse(w, req, "invalid_request", "unexpected state")
			return
		}

		nonce := qv.Get("nonce")
		if p.expectedAuthNonce != "" && p.expectedAuthNonce != nonce {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		if qv.Get("prompt") == string(None) && p.loginRequired {
			p.writeAuthErrorResponse(w, req, "login_required", "")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		challengeMethod := qv.Get("code_challenge_method")
		if challengeMethod != "" && challengeMethod != string(S256) {
			p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
			return
		}
		p.lastNonce = nonce
		p.lastChallenge = qv.Get("code_challenge")
		p.lastChallengeMeth = challengeMethod

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)

		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/certs_missing":
		w.WriteHeader(http.StatusNotFound)

	case "/certs_invalid":
		_, _ = w.Write([]byte("It's not a keyset!"))

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.disableToken {
			_ = p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", "token endpoint disabled")
			return
		}
		if !p.clientAuthenticated(req) {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
			return
		}

		var nonce string
		switch req.FormValue("grant_type") {
		case "authorization_code":
			switch {
			case !contains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			case req.FormValue("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
			if p.lastChallenge != "" {
				v := req.FormValue("code_verifier")
				if v == "" {
					_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "missing code_verifier")
					return
				}
				verifier, err := ParseCodeVerifier(v)
				if err != nil || verifier.Challenge() != p.lastChallenge {
					_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
					return
				}
			}
			nonce = p.lastNonce
			if p.expectedAuthNonce != "" {
				nonce = p.expectedAuthNonce
			}
		case "refresh_token":
			rt := req.FormValue("refresh_token")
			if !p.refreshTokens[rt] {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "Token is not active")
				return
			}
			// refresh tokens are rotated
			delete(p.refreshTokens, rt)
			p.refreshCount++
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		}

		reply := struct {
			AccessToken  string `json:"access_token"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
			RefreshToken string `json:"refresh_token,omitempty"`
			IDToken      string `json:"id_token,omitempty"`
		}{
			AccessToken: p.signToken(p.audience(), ""),
			TokenType:   "Bearer",
			ExpiresIn:   int64(p.expiry / time.Second),
			IDToken:     p.signToken(p.audience(), nonce),
		}
		if !p.omitRefreshToken {
			rt, err := NewID(WithPrefix("rt"))
			if err != nil {
				_ = p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
				return
			}
			p.refreshTokens[rt] = true
			reply.RefreshToken = rt
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !strings.HasPrefix(req.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		reply["sub"] = p.replySubject
		_ = p.writeJSON(w, reply)

	case "/logout":
		p.logouts = append(p.logouts, req.URL.Query())
		if redirect := req.URL.Query().Get("post_logout_redirect_uri"); redirect != "" {
			http.Redirect(w, req, redirect, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(ES256),
				Use:       "sig",
			},
		},
	}
}

// testProviderOptions is the set of available options for TestProvider
// functions
type testProviderOptions struct {
	withRealm string
}

// testProviderDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func testProviderDefaults() testProviderOptions {
	return testProviderOptions{}
}

// getTestProviderOpts gets the test provider defaults and applies the opt
// overrides passed in
func getTestProviderOpts(opt ...Option) testProviderOptions {
	opts := testProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTestRealm makes the TestProvider use a Keycloak realm layout: the
// issuer is Addr()/realms/{realm} and endpoints live under the issuer's
// /protocol/openid-connect path.
func WithTestRealm(realm string) Option {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withRealm = realm
		}
	}
}
