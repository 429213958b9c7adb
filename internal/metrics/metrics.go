package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/protezlab/reportgate/keycloak"
)

const namespace = "reportgate"

// Metrics holds the service's collectors, registered on a registry of
// their own so that several instances can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	authEvents          *prometheus.CounterVec
	tokensIssued        *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a new registry.
func New() (*Metrics, error) {
	const op = "metrics.New"
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Auth client lifecycle events by event and result.",
		}, []string{"event", "result"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by the realm by token kind.",
		}, []string{"token"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authEvents,
		m.tokensIssued,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	} {
		if err := registerCollector(m.registry, c); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return m, nil
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// EventHook returns the event hook that counts lifecycle events. The result
// label is "error" when the event carries an error and "ok" otherwise.
func (m *Metrics) EventHook() keycloak.EventFunc {
	return func(_ context.Context, event keycloak.Event, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.authEvents.WithLabelValues(string(event), result).Inc()
	}
}

// Token kinds used as the token label of tokens_issued_total.
const (
	AccessToken  = "access"
	RefreshToken = "refresh"
	IDToken      = "id"
)

// TokensHook returns the tokens hook that counts the tokens of every triple
// the realm issues, by login or refresh. Empty tokens aren't counted. Whether
// the triple reached a cookie is up to the other tokens hooks.
func (m *Metrics) TokensHook() keycloak.TokensFunc {
	return func(_ context.Context, tokens keycloak.Tokens) {
		if tokens.Token != "" {
			m.tokensIssued.WithLabelValues(AccessToken).Inc()
		}
		if tokens.RefreshToken != "" {
			m.tokensIssued.WithLabelValues(RefreshToken).Inc()
		}
		if tokens.IDToken != "" {
			m.tokensIssued.WithLabelValues(IDToken).Inc()
		}
	}
}

// Middleware records the count and latency of every request. Requests are
// labeled with the chi route pattern rather than the raw path, so path
// parameters don't blow up the label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := routePattern(r)
		m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}
