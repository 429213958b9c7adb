package oidc

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	testNow := func() time.Time { return fixed }
	verifier, err := NewCodeVerifier()
	require.NoError(t, err)

	tests := []struct {
		name        string
		expireIn    time.Duration
		redirectURL string
		opt         []Option
		wantErr     bool
		wantIsErr   error
		check       func(*assert.Assertions, *Req)
	}{
		{
			name:        "defaults",
			expireIn:    time.Minute,
			redirectURL: "http://localhost:3000/api/login/callback",
			check: func(assert *assert.Assertions, r *Req) {
				assert.True(strings.HasPrefix(r.State(), "st_"))
				assert.True(strings.HasPrefix(r.Nonce(), "n_"))
				assert.NotEqual(r.State(), r.Nonce())
				assert.Nil(r.PKCEVerifier())
				assert.Empty(r.Prompts())
				assert.False(IsSilent(r))
				assert.False(r.IsExpired())
			},
		},
		{
			name:        "all-options",
			expireIn:    time.Minute,
			redirectURL: "http://localhost:3000/api/login/callback",
			opt: []Option{
				WithState("s1"),
				WithNonce("n1"),
				WithPKCE(verifier),
				WithPrompts(None),
				WithScopes("email"),
				WithAudiences("account"),
				WithNow(testNow),
			},
			check: func(assert *assert.Assertions, r *Req) {
				assert.Equal("s1", r.State())
				assert.Equal("n1", r.Nonce())
				assert.Equal(verifier.Verifier(), r.PKCEVerifier().Verifier())
				assert.Equal([]Prompt{None}, r.Prompts())
				assert.Equal([]string{"email"}, r.Scopes())
				assert.Equal([]string{"account"}, r.Audiences())
				assert.Equal(fixed.Add(time.Minute), r.Expiry())
				assert.True(IsSilent(r))
			},
		},
		{
			name:        "empty-redirect",
			expireIn:    time.Minute,
			wantErr:     true,
			wantIsErr:   ErrInvalidParameter,
			redirectURL: "",
		},
		{
			name:        "zero-expiry",
			redirectURL: "http://localhost:3000/api/login/callback",
			wantErr:     true,
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "state-equals-nonce",
			expireIn:    time.Minute,
			redirectURL: "http://localhost:3000/api/login/callback",
			opt:         []Option{WithState("same"), WithNonce("same")},
			wantErr:     true,
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "unsupported-prompt",
			expireIn:    time.Minute,
			redirectURL: "http://localhost:3000/api/login/callback",
			opt:         []Option{WithPrompts("sometimes")},
			wantErr:     true,
			wantIsErr:   ErrUnsupportedPrompt,
		},
		{
			name:        "none-combined",
			expireIn:    time.Minute,
			redirectURL: "http://localhost:3000/api/login/callback",
			opt:         []Option{WithPrompts(None, Login)},
			wantErr:     true,
			wantIsErr:   ErrInvalidParameter,
		},
		{
			name:        "login-and-consent",
			expireIn:    time.Minute,
			redirectURL: "http://localhost:3000/api/login/callback",
			opt:         []Option{WithPrompts(Login, Consent)},
			check: func(assert *assert.Assertions, r *Req) {
				assert.Equal([]Prompt{Login, Consent}, r.Prompts())
				assert.False(IsSilent(r))
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewRequest(tt.expireIn, tt.redirectURL, tt.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, tt.wantIsErr)
				return
			}
			require.NoError(err)
			tt.check(assert, got)
		})
	}
}

func TestReq_IsExpired(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Now()
	clock := func() time.Time { return now }
	r, err := NewRequest(time.Minute, "http://localhost/cb", WithNow(func() time.Time { return clock() }))
	require.NoError(err)
	assert.False(r.IsExpired())

	clock = func() time.Time { return now.Add(59*time.Second + 500*time.Millisecond) }
	assert.True(r.IsExpired(), "the expiry skew makes a request expire early")

	clock = func() time.Time { return now.Add(2 * time.Minute) }
	assert.True(r.IsExpired())
}

func TestReq_PKCEVerifierIsCopied(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	v, err := NewCodeVerifier()
	require.NoError(err)
	r, err := NewRequest(time.Minute, "http://localhost/cb", WithPKCE(v))
	require.NoError(err)
	assert.NotSame(v, r.PKCEVerifier())
	assert.Equal(v.Challenge(), r.PKCEVerifier().Challenge())
}

func TestIsSilent(t *testing.T) {
	t.Parallel()
	assert.False(t, IsSilent(nil))
}
