package callback

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/protezlab/reportgate/oidc"
	"github.com/stretchr/testify/require"
)

// testSuccessFn answers 200 "login successful".
func testSuccessFn(_ string, _ oidc.Token, w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful"))
}

// testFailFn answers with an AuthenErrorResponse: the provider's error with a
// 401, or an "internal-callback-error" carrying e with a 500.
func testFailFn(_ string, r *AuthenErrorResponse, e error, w http.ResponseWriter, _ *http.Request) {
	status, resp := http.StatusInternalServerError, &AuthenErrorResponse{Error: "unknown-callback-error"}
	switch {
	case e != nil:
		resp = &AuthenErrorResponse{Error: "internal-callback-error", Description: e.Error()}
	case r != nil:
		status, resp = http.StatusUnauthorized, r
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// testNewProvider registers the client with tp and returns a Provider for
// it, released when the test ends.
func testNewProvider(t *testing.T, clientID, clientSecret, redirectURL string, tp *oidc.TestProvider) *oidc.Provider {
	t.Helper()
	require := require.New(t)
	require.NotEmpty(clientID)
	require.NotEmpty(redirectURL)

	tp.SetClientCreds(clientID, clientSecret)
	c, err := oidc.NewConfig(tp.Addr(), clientID, oidc.ClientSecret(clientSecret),
		[]oidc.Alg{oidc.ES256}, []string{redirectURL}, oidc.WithProviderCA(tp.CACert()))
	require.NoError(err)
	p, err := oidc.NewProvider(c)
	require.NoError(err)
	t.Cleanup(p.Done)
	return p
}
