package shell

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/protezlab/reportgate/keycloak"
)

type responseWriterKey struct{}

// WithResponseWriter attaches the response the tokens hook writes its
// cookies to.
func WithResponseWriter(ctx context.Context, w http.ResponseWriter) context.Context {
	return context.WithValue(ctx, responseWriterKey{}, w)
}

// ResponseWriterFromContext returns the response attached with
// WithResponseWriter.
func ResponseWriterFromContext(ctx context.Context) (http.ResponseWriter, bool) {
	w, ok := ctx.Value(responseWriterKey{}).(http.ResponseWriter)
	return w, ok
}

// TokenCookies returns the tokens hook that stores each token the client
// obtains under its cookie: access_token, refresh_token and id_token. A
// token is stored verbatim, and an empty one leaves its cookie alone. The
// cookies go to the response attached to the hook's ctx.
func TokenCookies(store *CookieStore, logger hclog.Logger) keycloak.TokensFunc {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(ctx context.Context, tokens keycloak.Tokens) {
		w, ok := ResponseWriterFromContext(ctx)
		if !ok {
			logger.Warn("no response to write token cookies to")
			return
		}
		for _, c := range []struct {
			name  string
			value string
		}{
			{AccessTokenCookie, string(tokens.Token)},
			{RefreshTokenCookie, string(tokens.RefreshToken)},
			{IDTokenCookie, string(tokens.IDToken)},
		} {
			if c.value == "" {
				continue
			}
			store.Set(w, c.name, c.value)
			logger.Trace("token cookie written", "cookie", c.name)
		}
	}
}
