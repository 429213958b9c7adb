package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/protezlab/reportgate/oidc"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRedirect = "https://reports.example.com/api/login/callback"

func testRequest(t *testing.T, ttl time.Duration, silent bool) *oidc.Req {
	t.Helper()
	require := require.New(t)
	v, err := oidc.NewCodeVerifier()
	require.NoError(err)
	opts := []oidc.Option{oidc.WithPKCE(v)}
	if silent {
		opts = append(opts, oidc.WithPrompts(oidc.None))
	}
	req, err := oidc.NewRequest(ttl, testRedirect, opts...)
	require.NoError(err)
	return req
}

func testAssertSameRequest(t *testing.T, want, got oidc.Request) {
	t.Helper()
	assert, require := assert.New(t), require.New(t)
	require.NotNil(got)
	assert.Equal(want.State(), got.State())
	assert.Equal(want.Nonce(), got.Nonce())
	assert.Equal(want.RedirectURL(), got.RedirectURL())
	assert.Equal(oidc.IsSilent(want), oidc.IsSilent(got))
	assert.WithinDuration(want.Expiry(), got.Expiry(), time.Second)
	require.NotNil(got.PKCEVerifier())
	assert.Equal(want.PKCEVerifier().Verifier(), got.PKCEVerifier().Verifier())
	assert.Equal(want.PKCEVerifier().Challenge(), got.PKCEVerifier().Challenge())
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	t.Run("round-trip", func(t *testing.T) {
		require := require.New(t)
		req := testRequest(t, time.Minute, true)
		snap, err := NewSnapshot(req)
		require.NoError(err)
		got, err := snap.Request(nil)
		require.NoError(err)
		testAssertSameRequest(t, req, got)
	})
	t.Run("without-pkce", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req, err := oidc.NewRequest(time.Minute, testRedirect)
		require.NoError(err)
		snap, err := NewSnapshot(req)
		require.NoError(err)
		assert.Empty(snap.CodeVerifier)
		got, err := snap.Request(nil)
		require.NoError(err)
		assert.Nil(got.PKCEVerifier())
	})
	t.Run("expired", func(t *testing.T) {
		snap := Snapshot{State: "st_1", Nonce: "n_1", RedirectURL: testRedirect, Expiry: time.Now().Add(-time.Second)}
		_, err := snap.Request(nil)
		assert.ErrorIs(t, err, oidc.ErrExpiredRequest)
	})
	t.Run("own-clock", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		at := time.Now().Add(-10 * time.Minute)
		clock := func() time.Time { return at }
		snap := Snapshot{State: "st_1", Nonce: "n_1", RedirectURL: testRedirect, Expiry: at.Add(time.Minute)}
		got, err := snap.Request(clock)
		require.NoError(err)
		assert.True(snap.Expiry.Equal(got.Expiry()))

		late := func() time.Time { return at.Add(2 * time.Minute) }
		_, err = snap.Request(late)
		assert.ErrorIs(err, oidc.ErrExpiredRequest)
	})
	t.Run("bad-verifier", func(t *testing.T) {
		snap := Snapshot{State: "st_1", Nonce: "n_1", RedirectURL: testRedirect, Expiry: time.Now().Add(time.Minute), CodeVerifier: "short"}
		_, err := snap.Request(nil)
		assert.ErrorIs(t, err, oidc.ErrInvalidCodeVerifier)
	})
	t.Run("nil", func(t *testing.T) {
		_, err := NewSnapshot(nil)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

// testStoreContract runs the behavior every Store shares.
func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	t.Run("add-read-delete", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req := testRequest(t, time.Minute, false)
		require.NoError(s.Add(ctx, nil, req))
		got, err := s.Read(ctx, req.State())
		require.NoError(err)
		testAssertSameRequest(t, req, got)

		require.NoError(s.Delete(ctx, req.State()))
		_, err = s.Read(ctx, req.State())
		assert.ErrorIs(err, oidc.ErrNotFound)
	})
	t.Run("unknown-state", func(t *testing.T) {
		_, err := s.Read(ctx, "st_unknown")
		assert.ErrorIs(t, err, oidc.ErrNotFound)
	})
	t.Run("expired-request", func(t *testing.T) {
		req, err := oidc.NewRequest(time.Minute, testRedirect, oidc.WithNow(func() time.Time { return time.Now().Add(-2 * time.Minute) }))
		require.NoError(t, err)
		assert.ErrorIs(t, s.Add(ctx, nil, req), oidc.ErrExpiredRequest)
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	m := NewMemoryStore(time.Minute)
	testStoreContract(t, m)

	t.Run("expires", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req := testRequest(t, 1100*time.Millisecond, false)
		require.NoError(m.Add(context.Background(), nil, req))
		time.Sleep(1200 * time.Millisecond)
		_, err := m.Read(context.Background(), req.State())
		assert.ErrorIs(err, oidc.ErrNotFound)
	})
}

func TestRedisStore(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewRedisStore(nil, "")
	assert.ErrorIs(t, err, ErrInvalidParameter)

	s, err := NewRedisStore(client, "")
	require.NoError(t, err)
	testStoreContract(t, s)

	t.Run("key-ttl", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req := testRequest(t, time.Minute, true)
		require.NoError(s.Add(context.Background(), nil, req))
		key := DefaultRedisKeyPrefix + req.State()
		assert.True(mr.Exists(key))
		assert.InDelta(float64(time.Minute), float64(mr.TTL(key)), float64(2*time.Second))

		mr.FastForward(2 * time.Minute)
		_, err := s.Read(context.Background(), req.State())
		assert.ErrorIs(err, oidc.ErrNotFound)
	})
	t.Run("unavailable", func(t *testing.T) {
		down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
		defer down.Close()
		s, err := NewRedisStore(down, "test:")
		require.NoError(t, err)
		_, err = s.Read(context.Background(), "st_1")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, oidc.ErrNotFound)
	})
}

func TestCookieStore(t *testing.T) {
	t.Parallel()
	hashKey := []byte("0123456789abcdef0123456789abcdef")
	blockKey := []byte("fedcba9876543210")

	t.Run("keys", func(t *testing.T) {
		_, err := NewCookieStore([]byte("short"), blockKey, false)
		assert.ErrorIs(t, err, ErrInvalidParameter)
		_, err = NewCookieStore(hashKey, []byte("bad"), false)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, err := NewCookieStore(hashKey, blockKey, true)
		require.NoError(err)
		req := testRequest(t, time.Minute, true)

		// the login response sets the cookie
		w := httptest.NewRecorder()
		require.NoError(s.Add(context.Background(), w, req))
		cookies := w.Result().Cookies()
		require.Len(cookies, 1)
		c := cookies[0]
		assert.Equal(cookiePrefix+req.State(), c.Name)
		assert.True(c.HttpOnly)
		assert.True(c.Secure)
		assert.Equal(http.SameSiteLaxMode, c.SameSite)
		assert.NotContains(c.Value, req.Nonce())

		// the callback request carries it back
		r := httptest.NewRequest(http.MethodGet, testRedirect, nil)
		r.AddCookie(c)
		cbW := httptest.NewRecorder()
		ctx := WithHTTP(context.Background(), cbW, r)
		got, err := s.Read(ctx, req.State())
		require.NoError(err)
		testAssertSameRequest(t, req, got)

		require.NoError(s.Delete(ctx, req.State()))
		deleted := cbW.Result().Cookies()
		require.Len(deleted, 1)
		assert.Equal(cookiePrefix+req.State(), deleted[0].Name)
		assert.Equal(-1, deleted[0].MaxAge)
	})
	t.Run("tampered", func(t *testing.T) {
		require := require.New(t)
		s, err := NewCookieStore(hashKey, blockKey, false)
		require.NoError(err)
		req := testRequest(t, time.Minute, false)
		r := httptest.NewRequest(http.MethodGet, testRedirect, nil)
		r.AddCookie(&http.Cookie{Name: cookiePrefix + req.State(), Value: "forged"})
		_, err = s.Read(WithHTTP(context.Background(), nil, r), req.State())
		assert.ErrorIs(t, err, oidc.ErrNotFound)
	})
	t.Run("missing-http", func(t *testing.T) {
		require := require.New(t)
		s, err := NewCookieStore(hashKey, blockKey, false)
		require.NoError(err)
		_, err = s.Read(context.Background(), "st_1")
		assert.ErrorIs(t, err, ErrMissingHTTP)
		assert.ErrorIs(t, s.Delete(context.Background(), "st_1"), ErrMissingHTTP)
		assert.ErrorIs(t, s.Add(context.Background(), nil, testRequest(t, time.Minute, false)), ErrInvalidParameter)
	})
	t.Run("middleware", func(t *testing.T) {
		assert := assert.New(t)
		var gotR *http.Request
		h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			_, gotR, _ = httpFromContext(r.Context())
		}))
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		h.ServeHTTP(httptest.NewRecorder(), r)
		assert.NotNil(gotR)
		assert.Equal("/", gotR.URL.Path)
	})
}

func TestStores_withNow(t *testing.T) {
	t.Parallel()
	// the auth client's clock runs ten minutes behind the wall clock, so its
	// requests are already expired by time.Now
	at := time.Now().Add(-10 * time.Minute)
	clock := func() time.Time { return at }

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rs, err := NewRedisStore(client, "", WithNow(clock))
	require.NoError(t, err)
	cs, err := NewCookieStore([]byte("0123456789abcdef0123456789abcdef"), []byte("fedcba9876543210"), false, WithNow(clock))
	require.NoError(t, err)

	tests := []struct {
		name  string
		store Store
	}{
		{name: "memory", store: NewMemoryStore(time.Minute, WithNow(clock))},
		{name: "redis", store: rs},
		{name: "cookie", store: cs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			req, err := oidc.NewRequest(time.Minute, testRedirect, oidc.WithNow(clock))
			require.NoError(err)
			require.True(req.Expiry().Before(time.Now()))

			w := httptest.NewRecorder()
			require.NoError(tt.store.Add(context.Background(), w, req))
			r := httptest.NewRequest(http.MethodGet, testRedirect, nil)
			for _, c := range w.Result().Cookies() {
				r.AddCookie(c)
			}
			got, err := tt.store.Read(WithHTTP(context.Background(), httptest.NewRecorder(), r), req.State())
			require.NoError(err)
			assert.True(req.Expiry().Equal(got.Expiry()))
		})
	}
}
