package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/protezlab/reportgate/keycloak"
	"github.com/protezlab/reportgate/oidc"
	"github.com/protezlab/reportgate/shell"
	"golang.org/x/time/rate"
)

type claimsKey struct{}

// ClaimsFromContext returns the claims of the request's verified access
// token.
func ClaimsFromContext(ctx context.Context) (*keycloak.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*keycloak.Claims)
	return c, ok
}

// authenticate verifies the request's access token, taken from the
// Authorization header or else the access_token cookie.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = s.cookies.Get(r, shell.AccessTokenCookie)
		}
		if token == "" {
			s.logger.Debug("no access token", "path", r.URL.Path)
			s.unauthorized(w, r, "Unauthorized: No access token")
			return
		}
		claims, err := s.client.VerifyAccessToken(r.Context(), oidc.AccessToken(token))
		if err != nil {
			s.logger.Debug("invalid access token", "path", r.URL.Path, "error", err)
			s.unauthorized(w, r, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// requireRole lets through users holding the realm role.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || !claims.HasRealmRole(role) {
				var roles []string
				if ok {
					roles = claims.RealmRoles
				}
				s.logger.Error("wrong user roles", "required", role, "roles", roles)
				writeError(w, http.StatusForbidden, fmt.Sprintf("Wrong user roles, %q required: %v", role, roles))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// unauthorized sends browsers to the login route and answers everything
// else with a JSON 401.
func (s *Server) unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if wantsHTML(r) {
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}
	writeError(w, http.StatusUnauthorized, detail)
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// cors allows any origin, with credentials. The origin is echoed back since
// a credentialed response can't use the * wildcard.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", r.Header.Get("Access-Control-Request-Method"))
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter keeps a token bucket per client address. Idle buckets are
// evicted.
type rateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *cache.Cache
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache.New(10*time.Minute, 10*time.Minute),
	}
}

func (l *rateLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.limiters.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.limiters.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.SetDefault(key, lim)
	return lim
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(clientAddr(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
