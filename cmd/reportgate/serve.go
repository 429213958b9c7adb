package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/protezlab/reportgate/internal/api"
	"github.com/protezlab/reportgate/internal/config"
	"github.com/protezlab/reportgate/internal/metrics"
	"github.com/protezlab/reportgate/internal/session"
	"github.com/protezlab/reportgate/internal/store"
	"github.com/protezlab/reportgate/keycloak"
	"github.com/protezlab/reportgate/oidc"
	"github.com/protezlab/reportgate/shell"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the app until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	const op = "serve"
	logger := cfg.Logger()

	st, err := store.Open(cfg.DatabasePath, store.WithLogger(logger.Named("store")))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer st.Close()
	if _, err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	cookieOpts, err := cfg.CookieOptions()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	cookies := shell.NewCookieStore(cookieOpts)

	c, err := newClient(cfg, logger, m, cookies)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer c.Close()
	if err := c.Init(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	requests, closeRequests, err := newRequestStore(ctx, cfg, session.WithNow(c.Now))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer closeRequests()

	s, err := api.New(c, cookies, requests, st,
		api.WithLogger(logger.Named("api")),
		api.WithMetrics(m),
		api.WithBaseURL(cfg.BaseURL),
		api.WithRoles(cfg.Keycloak.AdminRole, cfg.Keycloak.ProstheticUserRole),
		api.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// newClient builds the auth client with its hooks: the lifecycle events are
// logged and counted, and new tokens are logged, counted and written to the
// token cookies.
func newClient(cfg *config.Config, logger hclog.Logger, m *metrics.Metrics, cookies *shell.CookieStore) (*keycloak.Client, error) {
	ca, err := cfg.ProviderCA()
	if err != nil {
		return nil, err
	}
	kcLogger := logger.Named("keycloak")
	return keycloak.New(cfg.Realm(), oidc.ClientSecret(cfg.Keycloak.ClientSecret), cfg.RedirectURL(),
		keycloak.WithLogger(kcLogger),
		keycloak.WithProviderCA(ca),
		keycloak.WithInitOptions(cfg.InitOptions()),
		keycloak.WithEventHandler(keycloak.LogEvents(kcLogger)),
		keycloak.WithEventHandler(m.EventHook()),
		keycloak.WithTokensHandler(keycloak.LogTokens(kcLogger)),
		keycloak.WithTokensHandler(shell.TokenCookies(cookies, logger.Named("shell"))),
		keycloak.WithTokensHandler(m.TokensHook()),
	)
}

// newRequestStore returns the configured login request store and a func
// releasing it. The stores check request expiry on the auth client's clock.
func newRequestStore(ctx context.Context, cfg *config.Config, opt ...session.Option) (session.Store, func(), error) {
	switch cfg.Session.Backend {
	case config.SessionMemory:
		return session.NewMemoryStore(time.Minute, opt...), func() {}, nil
	case config.SessionRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("unable to reach redis: %w", err)
		}
		s, err := session.NewRedisStore(client, session.DefaultRedisKeyPrefix, opt...)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return s, func() { client.Close() }, nil
	default:
		hashKey, blockKey := cfg.SessionKeys()
		s, err := session.NewCookieStore(hashKey, blockKey, cfg.SecureCookies(), opt...)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}
