/*
Package metrics exposes reportgate's Prometheus metrics: the auth client's
lifecycle events and issued tokens (through its hooks) and the HTTP
requests the api serves (through a middleware).

	m, _ := metrics.New()
	c, _ := keycloak.New(realm, secret, redirect,
		keycloak.WithEventHandler(m.EventHook()),
		keycloak.WithTokensHandler(m.TokensHook()),
	)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Handle("/metrics", m.Handler())
*/
package metrics
