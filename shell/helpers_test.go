package shell

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/protezlab/reportgate/keycloak"
	"github.com/protezlab/reportgate/oidc"
	"github.com/stretchr/testify/require"
)

const (
	testRealm    = "reports"
	testClientID = "reports-web"
	testRedirect = "https://reports.example.com/api/login/callback"
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

// testNewClient starts a realm and an initialized client whose tokens hook
// writes to store.
func testNewClient(t *testing.T, store *CookieStore, opt ...keycloak.Option) (*oidc.TestProvider, *keycloak.Client, *testEvents) {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t, oidc.WithTestRealm(testRealm))
	tp.SetClientCreds(testClientID, "")
	tp.SetAllowedRedirectURIs([]string{testRedirect})
	tp.SetExpectedAuthCode("valid-code")
	tp.SetCustomClaims(map[string]interface{}{
		"preferred_username": "alice",
		"realm_access":       map[string]interface{}{"roles": []string{"prosthetic-user"}},
	})
	ev := &testEvents{}
	opt = append([]keycloak.Option{
		keycloak.WithProviderCA(tp.CACert()),
		keycloak.WithSigningAlgs(oidc.ES256),
		keycloak.WithEventHandler(ev.record),
		keycloak.WithTokensHandler(TokenCookies(store, nil)),
	}, opt...)
	c, err := keycloak.New(keycloak.RealmConfig{URL: tp.Addr(), Realm: testRealm, ClientID: testClientID}, "", testRedirect, opt...)
	require.NoError(err)
	t.Cleanup(c.Close)
	require.NoError(c.Init(context.Background()))
	return tp, c, ev
}

// testLogin runs the authorization code flow and returns the tokens.
func testLogin(t *testing.T, tp *oidc.TestProvider, c *keycloak.Client) oidc.Token {
	t.Helper()
	require := require.New(t)
	req, err := c.NewLoginRequest(false)
	require.NoError(err)
	authURL, err := c.LoginURL(context.Background(), req)
	require.NoError(err)
	cb := tp.Authorize(authURL)
	p, err := c.Provider()
	require.NoError(err)
	tk, err := p.Exchange(context.Background(), req, cb.Get("state"), cb.Get("code"))
	require.NoError(err)
	return tk
}

// testCookies returns the response's cookies by name.
func testCookies(resp *http.Response) map[string]*http.Cookie {
	m := map[string]*http.Cookie{}
	for _, c := range resp.Cookies() {
		m[c.Name] = c
	}
	return m
}
