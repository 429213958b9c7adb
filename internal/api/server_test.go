package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/protezlab/reportgate/internal/metrics"
	"github.com/protezlab/reportgate/internal/session"
	"github.com/protezlab/reportgate/internal/store"
	"github.com/protezlab/reportgate/keycloak"
	"github.com/protezlab/reportgate/oidc"
	"github.com/protezlab/reportgate/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRealm        = "reports"
	testClientID     = "reports-web"
	testClientSecret = "reports-secret"
	testRedirect     = "https://reports.example.com/api/login/callback"
	testBaseURL      = "https://reports.example.com"
	testSubject      = "f:2c1f9b7e:alice"
	testAdminRole    = "admin"
	testUserRole     = "prosthetic-user"
)

type testEvents struct {
	mu     sync.Mutex
	events []keycloak.Event
}

func (e *testEvents) record(_ context.Context, ev keycloak.Event, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *testEvents) Events() []keycloak.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]keycloak.Event(nil), e.events...)
}

type testEnv struct {
	tp      *oidc.TestProvider
	client  *keycloak.Client
	store   *store.Store
	metrics *metrics.Metrics
	events  *testEvents
	srv     *httptest.Server
	browser *http.Client
}

func testClaims(roles ...string) map[string]interface{} {
	return map[string]interface{}{
		"azp":                testClientID,
		"email":              "alice@example.com",
		"email_verified":     true,
		"preferred_username": "alice",
		"realm_access":       map[string]interface{}{"roles": roles},
	}
}

// testNewEnv starts a realm and a Server for it. Login requests are kept in
// cookies, so the flow only works for a browser with a cookie jar.
func testNewEnv(t *testing.T, opt ...Option) *testEnv {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()

	tp := oidc.StartTestProvider(t, oidc.WithTestRealm(testRealm))
	tp.SetClientCreds(testClientID, testClientSecret)
	tp.SetAllowedRedirectURIs([]string{testRedirect})
	tp.SetExpectedAuthCode("valid-code")
	tp.SetCustomClaims(testClaims(testUserRole))

	m, err := metrics.New()
	require.NoError(err)
	cookies := shell.NewCookieStore(shell.DevelopmentCookies())
	ev := &testEvents{}
	c, err := keycloak.New(
		keycloak.RealmConfig{URL: tp.Addr(), Realm: testRealm, ClientID: testClientID},
		testClientSecret,
		testRedirect,
		keycloak.WithProviderCA(tp.CACert()),
		keycloak.WithSigningAlgs(oidc.ES256),
		keycloak.WithEventHandler(ev.record),
		keycloak.WithEventHandler(m.EventHook()),
		keycloak.WithTokensHandler(shell.TokenCookies(cookies, nil)),
		keycloak.WithTokensHandler(m.TokensHook()),
	)
	require.NoError(err)
	t.Cleanup(c.Close)
	require.NoError(c.Init(ctx))

	st, err := store.Open(filepath.Join(t.TempDir(), "db.sqlite3"))
	require.NoError(err)
	t.Cleanup(func() { st.Close() })
	_, err = st.Migrate(ctx)
	require.NoError(err)

	requests, err := session.NewCookieStore([]byte(strings.Repeat("h", 32)), []byte(strings.Repeat("b", 32)), false, session.WithNow(c.Now))
	require.NoError(err)

	opt = append([]Option{
		WithMetrics(m),
		WithBaseURL(testBaseURL),
		WithRoles(testAdminRole, testUserRole),
	}, opt...)
	s, err := New(c, cookies, requests, st, opt...)
	require.NoError(err)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(err)
	browser := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testEnv{tp: tp, client: c, store: st, metrics: m, events: ev, srv: srv, browser: browser}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := e.browser.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// startLogin requests the login route and returns the realm's answer to
// the auth URL it redirects to.
func (e *testEnv) startLogin(t *testing.T, path string) (authURL string, cb url.Values) {
	t.Helper()
	resp := e.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authURL = resp.Header.Get("Location")
	return authURL, e.tp.Authorize(authURL)
}

func (e *testEnv) callback(t *testing.T, cb url.Values) *http.Response {
	t.Helper()
	return e.do(t, http.MethodGet, CallbackPath+"?"+cb.Encode(), nil, nil)
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	_, cb := e.startLogin(t, LoginPath)
	resp := e.callback(t, cb)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
}

func (e *testEnv) cookies(t *testing.T) map[string]string {
	t.Helper()
	u, err := url.Parse(e.srv.URL)
	require.NoError(t, err)
	out := map[string]string{}
	for _, c := range e.browser.Jar.Cookies(u) {
		out[c.Name] = c.Value
	}
	return out
}

func testDetail(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Detail
}

func testHasLoginCookie(cookies map[string]string) bool {
	for name := range cookies {
		if strings.HasPrefix(name, "rg_login_") {
			return true
		}
	}
	return false
}

func TestNew(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := testNewEnv(t)
	cookies := shell.NewCookieStore(shell.DevelopmentCookies())
	requests := session.NewMemoryStore(0, session.WithNow(e.client.Now))

	_, err := New(nil, cookies, requests, e.store)
	assert.ErrorIs(err, ErrNilParameter)
	_, err = New(e.client, nil, requests, e.store)
	assert.ErrorIs(err, ErrNilParameter)
	_, err = New(e.client, cookies, nil, e.store)
	assert.ErrorIs(err, ErrNilParameter)
	_, err = New(e.client, cookies, requests, nil)
	assert.ErrorIs(err, ErrNilParameter)

	uninitialized, err := keycloak.New(e.client.Realm(), testClientSecret, testRedirect)
	require.NoError(err)
	_, err = New(uninitialized, cookies, requests, e.store)
	assert.ErrorIs(err, keycloak.ErrNotInitialized)
}

func TestServer_Login(t *testing.T) {
	t.Parallel()
	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		e := testNewEnv(t)
		authURL, cb := e.startLogin(t, LoginPath)
		assert.True(strings.HasPrefix(authURL, e.tp.Issuer()))
		u, err := url.Parse(authURL)
		require.NoError(err)
		assert.Equal("S256", u.Query().Get("code_challenge_method"))
		assert.Empty(u.Query().Get("prompt"))
		assert.True(testHasLoginCookie(e.cookies(t)))

		resp := e.callback(t, cb)
		assert.Equal(http.StatusFound, resp.StatusCode)
		assert.Equal("/", resp.Header.Get("Location"))

		cookies := e.cookies(t)
		for _, name := range shell.TokenCookieNames {
			assert.NotEmpty(cookies[name], name)
		}
		assert.False(testHasLoginCookie(cookies))
		assert.Contains(e.events.Events(), keycloak.OnAuthSuccess)

		user, err := e.store.Users().FindByID(context.Background(), testSubject)
		require.NoError(err)
		assert.Equal("alice@example.com", user.Email)
		assert.True(user.EmailVerified)
		assert.Equal("alice", user.PreferredUsername)

		// a second login updates the same user
		e.login(t)
		users, err := e.store.Users().FindAll(context.Background())
		require.NoError(err)
		assert.Len(users, 1)
	})
	t.Run("silent-not-signed-in", func(t *testing.T) {
		assert := assert.New(t)
		e := testNewEnv(t)
		e.tp.SetLoginRequired(true)
		authURL, cb := e.startLogin(t, LoginPath+"?silent=1")
		assert.Contains(authURL, "prompt=none")
		assert.Equal("login_required", cb.Get("error"))

		resp := e.callback(t, cb)
		assert.Equal(http.StatusFound, resp.StatusCode)
		assert.Equal("/", resp.Header.Get("Location"))
		cookies := e.cookies(t)
		assert.Empty(cookies[shell.AccessTokenCookie])
		assert.NotContains(e.events.Events(), keycloak.OnAuthError)
	})
	t.Run("exchange-fails", func(t *testing.T) {
		assert := assert.New(t)
		e := testNewEnv(t)
		_, cb := e.startLogin(t, LoginPath)
		e.tp.SetDisableToken(true)
		resp := e.callback(t, cb)
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
		assert.Equal("authorization failed", testDetail(t, resp))
		assert.Contains(e.events.Events(), keycloak.OnAuthError)
		assert.Empty(e.cookies(t)[shell.AccessTokenCookie])
	})
	t.Run("missing-refresh-token", func(t *testing.T) {
		assert := assert.New(t)
		e := testNewEnv(t)
		e.tp.OmitRefreshTokens()
		_, cb := e.startLogin(t, LoginPath)
		resp := e.callback(t, cb)
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
		assert.Equal("refresh token not found", testDetail(t, resp))
		assert.Contains(e.events.Events(), keycloak.OnAuthError)
		assert.NotContains(e.events.Events(), keycloak.OnAuthSuccess)
	})
	t.Run("unknown-state", func(t *testing.T) {
		assert := assert.New(t)
		e := testNewEnv(t)
		resp := e.callback(t, url.Values{"state": {"st_unknown"}, "code": {"valid-code"}})
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	})
	t.Run("rate-limited", func(t *testing.T) {
		assert := assert.New(t)
		e := testNewEnv(t, WithRateLimit(0.001, 1))
		resp := e.do(t, http.MethodGet, LoginPath, nil, nil)
		assert.Equal(http.StatusFound, resp.StatusCode)
		resp = e.do(t, http.MethodGet, LoginPath, nil, nil)
		assert.Equal(http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal("1", resp.Header.Get("Retry-After"))
	})
}

func TestServer_Logout(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := testNewEnv(t)
	e.login(t)
	idToken := e.cookies(t)[shell.IDTokenCookie]
	require.NotEmpty(idToken)

	resp := e.do(t, http.MethodGet, LogoutPath, nil, nil)
	assert.Equal(http.StatusFound, resp.StatusCode)
	u, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	assert.True(strings.HasPrefix(u.String(), e.tp.Issuer()))
	assert.Equal(idToken, u.Query().Get("id_token_hint"))
	assert.Equal(testBaseURL, u.Query().Get("post_logout_redirect_uri"))

	cookies := e.cookies(t)
	for _, name := range shell.TokenCookieNames {
		assert.Empty(cookies[name], name)
	}
	assert.Contains(e.events.Events(), keycloak.OnAuthLogout)
}

func TestServer_Refresh(t *testing.T) {
	t.Parallel()
	t.Run("rotates", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		e := testNewEnv(t)
		e.login(t)
		before := e.cookies(t)

		resp := e.do(t, http.MethodPost, "/api/refresh", nil, nil)
		require.Equal(http.StatusOK, resp.StatusCode)
		var body struct {
			Status    string `json:"status"`
			ExpiresIn int64  `json:"expires_in"`
		}
		require.NoError(json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal("ok", body.Status)
		assert.Greater(body.ExpiresIn, int64(0))
		assert.Equal(1, e.tp.RefreshCount())

		after := e.cookies(t)
		assert.NotEqual(before[shell.RefreshTokenCookie], after[shell.RefreshTokenCookie])
		assert.Contains(e.events.Events(), keycloak.OnAuthRefreshSuccess)
	})
	t.Run("no-refresh-token", func(t *testing.T) {
		assert := assert.New(t)
		e := testNewEnv(t)
		resp := e.do(t, http.MethodPost, "/api/refresh", nil, nil)
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
		assert.Equal("Unauthorized: No refresh token", testDetail(t, resp))
	})
	t.Run("dead-refresh-token", func(t *testing.T) {
		assert := assert.New(t)
		e := testNewEnv(t)
		resp := e.do(t, http.MethodPost, "/api/refresh", nil, map[string]string{
			"Cookie": shell.RefreshTokenCookie + "=rt_dead",
		})
		assert.Equal(http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(e.events.Events(), keycloak.OnAuthRefreshError)
	})
}

func TestServer_API(t *testing.T) {
	t.Parallel()
	e := testNewEnv(t)
	userToken := e.tp.IssueAccessToken()
	e.tp.SetCustomClaims(testClaims(testUserRole, testAdminRole))
	adminToken := e.tp.IssueAccessToken()
	e.tp.SetCustomClaims(testClaims())
	noRolesToken := e.tp.IssueAccessToken()

	bearer := func(token string) map[string]string {
		return map[string]string{"Authorization": "Bearer " + token}
	}

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		header     map[string]string
		wantStatus int
		wantDetail string
		wantLoc    string
	}{
		{
			name:       "no-token",
			method:     http.MethodGet,
			path:       "/api/reports",
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Unauthorized: No access token",
		},
		{
			name:       "no-token-browser",
			method:     http.MethodGet,
			path:       "/api/reports",
			header:     map[string]string{"Accept": "text/html,application/xhtml+xml"},
			wantStatus: http.StatusFound,
			wantLoc:    LoginPath,
		},
		{
			name:       "invalid-token",
			method:     http.MethodGet,
			path:       "/api/me",
			header:     bearer("not-a-jwt"),
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Invalid token",
		},
		{
			name:       "invalid-cookie",
			method:     http.MethodGet,
			path:       "/api/me",
			header:     map[string]string{"Cookie": shell.AccessTokenCookie + "=garbage"},
			wantStatus: http.StatusUnauthorized,
			wantDetail: "Invalid token",
		},
		{
			name:       "me",
			method:     http.MethodGet,
			path:       "/api/me",
			header:     bearer(noRolesToken),
			wantStatus: http.StatusOK,
		},
		{
			name:       "reports",
			method:     http.MethodGet,
			path:       "/api/reports",
			header:     bearer(userToken),
			wantStatus: http.StatusOK,
		},
		{
			name:       "reports-wrong-role",
			method:     http.MethodGet,
			path:       "/api/reports",
			header:     bearer(noRolesToken),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "users-wrong-role",
			method:     http.MethodGet,
			path:       "/api/users",
			header:     bearer(userToken),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "users",
			method:     http.MethodGet,
			path:       "/api/users",
			header:     bearer(adminToken),
			wantStatus: http.StatusOK,
		},
		{
			name:       "create-report-wrong-role",
			method:     http.MethodPost,
			path:       "/api/reports",
			body:       `{"title":"Gait analysis"}`,
			header:     bearer(userToken),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "create-report",
			method:     http.MethodPost,
			path:       "/api/reports",
			body:       `{"title":"Gait analysis","content":"cadence 102"}`,
			header:     bearer(adminToken),
			wantStatus: http.StatusCreated,
		},
		{
			name:       "create-report-no-title",
			method:     http.MethodPost,
			path:       "/api/reports",
			body:       `{"content":"cadence 102"}`,
			header:     bearer(adminToken),
			wantStatus: http.StatusBadRequest,
			wantDetail: "report title is required",
		},
		{
			name:       "create-report-bad-json",
			method:     http.MethodPost,
			path:       "/api/reports",
			body:       `{"title":`,
			header:     bearer(adminToken),
			wantStatus: http.StatusBadRequest,
			wantDetail: "invalid report",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			resp := e.do(t, tt.method, tt.path, body, tt.header)
			assert.Equal(tt.wantStatus, resp.StatusCode)
			if tt.wantLoc != "" {
				assert.Equal(tt.wantLoc, resp.Header.Get("Location"))
			}
			if tt.wantDetail != "" {
				assert.Equal(tt.wantDetail, testDetail(t, resp))
			}
		})
	}

	t.Run("list-after-create", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		resp := e.do(t, http.MethodGet, "/api/reports", nil, bearer(userToken))
		require.Equal(http.StatusOK, resp.StatusCode)
		var body struct {
			Status  string          `json:"status"`
			Reports []*store.Report `json:"reports"`
		}
		require.NoError(json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal("ok", body.Status)
		require.Len(body.Reports, 1)
		assert.Equal("Gait analysis", body.Reports[0].Title)
	})
}

func TestServer_Shell(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := testNewEnv(t)
	_, err := e.store.Reports().Add(context.Background(), &store.Report{Title: "Gait analysis"})
	require.NoError(err)

	resp := e.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(err)
	assert.Contains(string(b), `class="App"`)
	assert.Contains(string(b), LoginPath)
	assert.NotContains(string(b), "Gait analysis")

	e.login(t)
	resp = e.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(http.StatusOK, resp.StatusCode)
	b, err = io.ReadAll(resp.Body)
	require.NoError(err)
	assert.Contains(string(b), "alice")
	assert.Contains(string(b), "Gait analysis")
	assert.Contains(string(b), LogoutPath)
}

func TestServer_CORS(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	e := testNewEnv(t)
	origin := "https://app.example.com"

	resp := e.do(t, http.MethodOptions, "/api/reports", nil, map[string]string{
		"Origin":                         origin,
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "Content-Type",
	})
	assert.Equal(http.StatusNoContent, resp.StatusCode)
	assert.Equal(origin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal("true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(http.MethodPost, resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal("Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))

	resp = e.do(t, http.MethodGet, "/api/reports", nil, map[string]string{"Origin": origin})
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(origin, resp.Header.Get("Access-Control-Allow-Origin"))

	resp = e.do(t, http.MethodGet, "/api/reports", nil, nil)
	assert.Empty(resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := testNewEnv(t)
	e.login(t)

	resp := e.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(err)
	body := string(b)
	assert.Contains(body, `reportgate_auth_events_total{event="onAuthSuccess",result="ok"} 1`)
	assert.Contains(body, `reportgate_tokens_issued_total{token="access"} 1`)
	assert.Contains(body, `reportgate_http_requests_total{method="GET",path="/api/login/callback",status="302"} 1`)
}
