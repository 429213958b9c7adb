package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/protezlab/reportgate/internal/metrics"
	"github.com/protezlab/reportgate/internal/session"
	"github.com/protezlab/reportgate/internal/store"
	"github.com/protezlab/reportgate/keycloak"
	"github.com/protezlab/reportgate/shell"
)

var (
	ErrNilParameter = errors.New("nil parameter")
	ErrMissingToken = errors.New("missing token")
)

// The routes of the auth flow.
const (
	LoginPath    = "/api/login"
	CallbackPath = "/api/login/callback"
	LogoutPath   = "/api/logout"
)

// Server serves reportgate's routes: the auth flow under /api, the reports
// and users API, and the shell at /.
type Server struct {
	client   *keycloak.Client
	cookies  *shell.CookieStore
	requests session.Store
	users    *store.Users
	reports  *store.Reports
	logger   hclog.Logger
	metrics  *metrics.Metrics

	baseURL            string
	adminRole          string
	prostheticUserRole string

	router chi.Router
}

// New builds the server's router. The client must be initialized, since
// the callback route is bound to its provider.
//
// Supported options: WithLogger, WithMetrics, WithBaseURL, WithTitle,
// WithRoles, WithRateLimit
func New(c *keycloak.Client, cookies *shell.CookieStore, requests session.Store, st *store.Store, opt ...Option) (*Server, error) {
	const op = "api.New"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	case cookies == nil:
		return nil, fmt.Errorf("%s: cookie store is nil: %w", op, ErrNilParameter)
	case requests == nil:
		return nil, fmt.Errorf("%s: request store is nil: %w", op, ErrNilParameter)
	case st == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	s := &Server{
		client:             c,
		cookies:            cookies,
		requests:           requests,
		users:              st.Users(),
		reports:            st.Reports(),
		logger:             opts.withLogger,
		metrics:            opts.withMetrics,
		baseURL:            opts.withBaseURL,
		adminRole:          opts.withAdminRole,
		prostheticUserRole: opts.withProstheticUserRole,
	}

	callbackHandler, err := c.CallbackHandler(requests, s.callbackSuccess, s.callbackError)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create callback handler: %w", op, err)
	}
	page, err := shell.Shell(opts.withTitle, shell.ReportPage(s.reports, LoginPath, LogoutPath), shell.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create shell: %w", op, err)
	}
	root, err := shell.Provider(c, cookies, page, shell.WithLogger(s.logger), shell.WithLoginPath(LoginPath))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	limiter := newRateLimiter(opts.withRateLimit, opts.withRateBurst)

	r := chi.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.With(limiter.middleware).Get("/login", s.login)
		r.With(limiter.middleware, session.Middleware).Get("/login/callback", callbackHandler)
		r.Get("/logout", s.logout)
		r.Post("/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/me", s.me)
			r.With(s.requireRole(s.prostheticUserRole)).Get("/reports", s.listReports)
			r.With(s.requireRole(s.adminRole)).Post("/reports", s.createReport)
			r.With(s.requireRole(s.adminRole)).Get("/users", s.listUsers)
		})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Handle("/", root)
	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
