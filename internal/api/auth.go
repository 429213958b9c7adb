package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/protezlab/reportgate/internal/session"
	"github.com/protezlab/reportgate/internal/store"
	"github.com/protezlab/reportgate/keycloak"
	"github.com/protezlab/reportgate/oidc"
	"github.com/protezlab/reportgate/oidc/callback"
	"github.com/protezlab/reportgate/shell"
)

// login starts an authorization code flow. With ?silent=1 the realm is
// asked not to prompt, so a user without a realm session comes back with
// login_required (check-sso).
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	silent, _ := strconv.ParseBool(r.URL.Query().Get("silent"))
	req, err := s.client.NewLoginRequest(silent)
	if err != nil {
		s.logger.Error("unable to create login request", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to start login")
		return
	}
	ctx := session.WithHTTP(r.Context(), w, r)
	if err := s.requests.Add(ctx, w, req); err != nil {
		s.logger.Error("unable to store login request", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to start login")
		return
	}
	u, err := s.client.LoginURL(ctx, req)
	if err != nil {
		s.logger.Error("unable to create login url", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to start login")
		return
	}
	s.logger.Debug("login started", "state", req.State(), "silent", silent)
	http.Redirect(w, r, u, http.StatusFound)
}

// callbackSuccess accepts the tokens of a login only when all three were
// issued and the access token verifies. The user is saved from its claims
// and the tokens hooks write the token cookies.
func (s *Server) callbackSuccess(state string, t oidc.Token, w http.ResponseWriter, r *http.Request) {
	const op = "Server.callbackSuccess"
	ctx := shell.WithResponseWriter(r.Context(), w)
	tokens := keycloak.TokensOf(t)
	for _, tk := range []struct {
		name    string
		missing bool
	}{
		{"access token", tokens.Token == ""},
		{"refresh token", tokens.RefreshToken == ""},
		{"id token", tokens.IDToken == ""},
	} {
		if tk.missing {
			s.client.AuthFailed(ctx, fmt.Errorf("%s: %s: %w", op, tk.name, ErrMissingToken))
			writeError(w, http.StatusUnauthorized, tk.name+" not found")
			return
		}
	}
	claims, err := s.client.VerifyAccessToken(ctx, tokens.Token)
	if err != nil {
		s.client.AuthFailed(ctx, fmt.Errorf("%s: %w", op, err))
		writeError(w, http.StatusUnauthorized, "authorization failed")
		return
	}
	if _, err := s.users.Upsert(ctx, userFromClaims(claims)); err != nil {
		s.client.AuthFailed(ctx, fmt.Errorf("%s: %w", op, err))
		writeError(w, http.StatusInternalServerError, "unable to save user")
		return
	}
	s.client.Authenticated(ctx, t)
	s.logger.Info("user logged in", "user_id", claims.Subject, "state", state)
	http.Redirect(w, r, "/", http.StatusFound)
}

// callbackError ends a failed login. A silent login that found no realm
// session goes back to the app as an anonymous user.
func (s *Server) callbackError(state string, respErr *callback.AuthenErrorResponse, e error, w http.ResponseWriter, r *http.Request) {
	if respErr.IsLoginRequired() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if respErr != nil {
		s.logger.Error("realm error", "state", state, "error", respErr.Error, "description", respErr.Description)
	} else {
		s.logger.Error("login callback failed", "state", state, "error", e)
	}
	writeError(w, http.StatusUnauthorized, "authorization failed")
}

// logout clears the token cookies and sends the browser to the realm to end
// its session there too.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	idToken := oidc.IDToken(s.cookies.Get(r, shell.IDTokenCookie))
	u, err := s.client.Logout(r.Context(), idToken, s.baseURL)
	if err != nil {
		s.logger.Error("unable to create logout url", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to logout")
		return
	}
	s.cookies.Clear(w, shell.TokenCookieNames...)
	http.Redirect(w, r, u, http.StatusFound)
}

// refresh exchanges the refresh_token cookie for new tokens, which the
// tokens hooks write back to the cookies.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	rt := s.cookies.Get(r, shell.RefreshTokenCookie)
	if rt == "" {
		s.unauthorized(w, r, "Unauthorized: No refresh token")
		return
	}
	ctx := shell.WithResponseWriter(r.Context(), w)
	t, err := s.client.Refresh(ctx, oidc.RefreshToken(rt))
	if err != nil {
		s.cookies.Clear(w, shell.TokenCookieNames...)
		s.unauthorized(w, r, "Unauthorized: refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"expires_in": int64(s.client.Remaining(t.AccessToken()).Seconds()),
	})
}

func userFromClaims(c *keycloak.Claims) *store.User {
	return &store.User{
		ID:                c.Subject,
		Email:             c.Email,
		EmailVerified:     c.EmailVerified,
		Name:              c.Name,
		PreferredUsername: c.PreferredUsername,
		GivenName:         c.GivenName,
		FamilyName:        c.FamilyName,
	}
}
