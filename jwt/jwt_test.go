package jwt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/protezlab/reportgate/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2/jwt"
)

func TestNewValidator(t *testing.T) {
	t.Parallel()
	pub, _ := oidc.TestGenerateKeys(t)
	ks, err := NewStaticKeySet([]string{pub})
	require.NoError(t, err)

	tests := []struct {
		name    string
		keySets []KeySet
		wantErr bool
	}{
		{name: "one-key-set", keySets: []KeySet{ks}},
		{name: "multiple-key-sets", keySets: []KeySet{ks, ks}},
		{name: "no-key-sets", wantErr: true},
		{name: "nil-key-set", keySets: []KeySet{ks, nil}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewValidator(tt.keySets...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got)
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	_, priv := tp.SigningKeys()

	keySet, err := NewOIDCDiscoveryKeySet(ctx, tp.Addr(), tp.CACert())
	require.NoError(t, err)
	v, err := NewValidator(keySet)
	require.NoError(t, err)

	now := time.Now()
	sign := func(c jwt.Claims, private map[string]interface{}) string {
		return oidc.TestSignJWT(t, priv, c, private)
	}
	valid := jwt.Claims{
		Issuer:    tp.Addr(),
		Subject:   "alice",
		ID:        "jti-1",
		Audience:  jwt.Audience{"account", "reports-web"},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	expected := Expected{
		Issuer:            tp.Addr(),
		Subject:           "alice",
		ID:                "jti-1",
		Audiences:         []string{"reports-web"},
		SigningAlgorithms: []Alg{ES256},
	}

	tests := []struct {
		name     string
		token    func() string
		expected Expected
		opt      []Option
		wantErr  error
	}{
		{
			name:     "valid",
			token:    func() string { return sign(valid, map[string]interface{}{"azp": "reports-web"}) },
			expected: expected,
		},
		{
			name:     "valid-no-expectations-but-alg",
			token:    func() string { return sign(valid, nil) },
			expected: Expected{SigningAlgorithms: []Alg{ES256}},
		},
		{
			name: "only-iat",
			token: func() string {
				c := valid
				c.NotBefore, c.Expiry = nil, nil
				return sign(c, nil)
			},
			expected: Expected{SigningAlgorithms: []Alg{ES256}},
		},
		{
			name: "no-time-claims",
			token: func() string {
				c := valid
				c.IssuedAt, c.NotBefore, c.Expiry = nil, nil, nil
				return sign(c, nil)
			},
			expected: Expected{SigningAlgorithms: []Alg{ES256}},
			wantErr:  ErrMissingTimeClaims,
		},
		{
			name: "expired",
			token: func() string {
				c := valid
				c.IssuedAt = jwt.NewNumericDate(now.Add(-time.Hour))
				c.NotBefore = jwt.NewNumericDate(now.Add(-time.Hour))
				c.Expiry = jwt.NewNumericDate(now.Add(-10 * time.Minute))
				return sign(c, nil)
			},
			expected: expected,
			wantErr:  ErrTokenExpired,
		},
		{
			name: "expired-within-skew",
			token: func() string {
				c := valid
				c.Expiry = jwt.NewNumericDate(now.Add(-30 * time.Second))
				c.IssuedAt = jwt.NewNumericDate(now.Add(-time.Minute))
				c.NotBefore = jwt.NewNumericDate(now.Add(-time.Minute))
				return sign(c, nil)
			},
			expected: expected,
		},
		{
			name: "expired-no-skew",
			token: func() string {
				c := valid
				c.Expiry = jwt.NewNumericDate(now.Add(-30 * time.Second))
				c.IssuedAt = jwt.NewNumericDate(now.Add(-time.Minute))
				c.NotBefore = jwt.NewNumericDate(now.Add(-time.Minute))
				return sign(c, nil)
			},
			expected: func() Expected { e := expected; e.ClockSkewLeeway = -1; return e }(),
			wantErr:  ErrTokenExpired,
		},
		{
			name: "not-yet-valid",
			token: func() string {
				c := valid
				c.NotBefore = jwt.NewNumericDate(now.Add(time.Hour))
				return sign(c, nil)
			},
			expected: expected,
			wantErr:  ErrInvalidClaim,
		},
		{
			name: "issued-in-the-future",
			token: func() string {
				c := valid
				c.IssuedAt = jwt.NewNumericDate(now.Add(time.Hour))
				return sign(c, nil)
			},
			expected: expected,
			wantErr:  ErrInvalidClaim,
		},
		{
			name:     "wrong-issuer",
			token:    func() string { return sign(valid, nil) },
			expected: func() Expected { e := expected; e.Issuer = "https://wrong.example.com"; return e }(),
			wantErr:  ErrInvalidClaim,
		},
		{
			name:     "wrong-subject",
			token:    func() string { return sign(valid, nil) },
			expected: func() Expected { e := expected; e.Subject = "bob"; return e }(),
			wantErr:  ErrInvalidClaim,
		},
		{
			name:     "wrong-id",
			token:    func() string { return sign(valid, nil) },
			expected: func() Expected { e := expected; e.ID = "jti-2"; return e }(),
			wantErr:  ErrInvalidClaim,
		},
		{
			name:     "wrong-audience",
			token:    func() string { return sign(valid, nil) },
			expected: func() Expected { e := expected; e.Audiences = []string{"other"}; return e }(),
			wantErr:  ErrInvalidClaim,
		},
		{
			name:     "authorized-party",
			token:    func() string { return sign(valid, map[string]interface{}{"azp": "reports-web"}) },
			expected: expected,
			opt:      []Option{WithAuthorizedParty("reports-web")},
		},
		{
			name:     "no-authorized-party-claim",
			token:    func() string { return sign(valid, nil) },
			expected: expected,
			opt:      []Option{WithAuthorizedParty("reports-web")},
			wantErr:  ErrInvalidClaim,
		},
		{
			name:     "empty-authorized-party-claim",
			token:    func() string { return sign(valid, map[string]interface{}{"azp": ""}) },
			expected: expected,
			opt:      []Option{WithAuthorizedParty("reports-web")},
			wantErr:  ErrInvalidClaim,
		},
		{
			name:     "wrong-authorized-party",
			token:    func() string { return sign(valid, map[string]interface{}{"azp": "other-client"}) },
			expected: expected,
			opt:      []Option{WithAuthorizedParty("reports-web")},
			wantErr:  ErrInvalidClaim,
		},
		{
			name:     "default-alg-is-rs256",
			token:    func() string { return sign(valid, nil) },
			expected: func() Expected { e := expected; e.SigningAlgorithms = nil; return e }(),
			wantErr:  ErrInvalidAlgorithm,
		},
		{
			name: "bad-signature",
			token: func() string {
				parts := strings.Split(sign(valid, nil), ".")
				parts[2] = strings.Repeat("A", len(parts[2]))
				return strings.Join(parts, ".")
			},
			expected: expected,
			wantErr:  ErrInvalidSignature,
		},
		{
			name: "signed-by-unknown-key",
			token: func() string {
				_, other := oidc.TestGenerateKeys(t)
				return oidc.TestSignJWT(t, other, valid, nil)
			},
			expected: expected,
			wantErr:  ErrInvalidSignature,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			claims, err := v.Validate(ctx, tt.token(), tt.expected, tt.opt...)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			assert.Equal("alice", claims["sub"])
		})
	}
}

func Test_validateAudience(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		expected []string
		audClaim []string
		wantErr  bool
	}{
		{name: "skip-when-empty", audClaim: []string{"account"}},
		{name: "one-matches", expected: []string{"reports-api", "reports-web"}, audClaim: []string{"account", "reports-web"}},
		{name: "none-match", expected: []string{"reports-api"}, audClaim: []string{"account"}, wantErr: true},
		{name: "no-aud-claim", expected: []string{"reports-web"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := validateAudience(tt.expected, tt.audClaim)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidClaim)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSupportedSigningAlgorithm(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.NoError(SupportedSigningAlgorithm(RS256, RS384, RS512, ES256, ES384, ES512, PS256, PS384, PS512, EdDSA))
	assert.ErrorIs(SupportedSigningAlgorithm(Alg("none")), ErrInvalidAlgorithm)
	assert.ErrorIs(SupportedSigningAlgorithm(RS256, Alg("HS256")), ErrInvalidAlgorithm)
}
