package shell

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/protezlab/reportgate/keycloak"
	"github.com/protezlab/reportgate/oidc"
)

// The cookies the tokens are stored under.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	IDTokenCookie      = "id_token"
)

// TokenCookieNames lists the token cookies.
var TokenCookieNames = []string{AccessTokenCookie, RefreshTokenCookie, IDTokenCookie}

// CookieOptions are the attributes of every cookie a CookieStore writes.
type CookieOptions struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string

	// MaxAge in seconds. Zero writes session cookies.
	MaxAge int
}

// DevelopmentCookies are the cookie attributes used in development.
func DevelopmentCookies() CookieOptions {
	return CookieOptions{Secure: false, SameSite: http.SameSiteLaxMode}
}

// ProductionCookies are the cookie attributes used in production.
func ProductionCookies() CookieOptions {
	return CookieOptions{Secure: true, SameSite: http.SameSiteStrictMode}
}

// ParseSameSite parses lax, strict or none (any case). An empty string is
// lax.
func ParseSameSite(s string) (http.SameSite, error) {
	const op = "shell.ParseSameSite"
	switch strings.ToLower(s) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("%s: unknown SameSite %q: %w", op, s, ErrInvalidParameter)
	}
}

// CookieStore reads and writes cookies with a fixed set of attributes.
// Values are percent-encoded on write and decoded on read, so Get returns
// exactly what Set was given.
type CookieStore struct {
	opts CookieOptions
}

// NewCookieStore returns a CookieStore that writes cookies with opts.
func NewCookieStore(opts CookieOptions) *CookieStore {
	return &CookieStore{opts: opts}
}

// Options returns the store's cookie attributes.
func (s *CookieStore) Options() CookieOptions { return s.opts }

// Set writes the cookie.
func (s *CookieStore) Set(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, s.cookie(name, url.QueryEscape(value), s.opts.MaxAge))
}

// Get returns the cookie's value, or "" when the request doesn't carry it.
func (s *CookieStore) Get(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		return c.Value
	}
	return v
}

// Clear expires the named cookies.
func (s *CookieStore) Clear(w http.ResponseWriter, names ...string) {
	for _, name := range names {
		http.SetCookie(w, s.cookie(name, "", -1))
	}
}

// Tokens returns the tokens stored in the request's cookies.
func (s *CookieStore) Tokens(r *http.Request) keycloak.Tokens {
	return keycloak.Tokens{
		Token:        oidc.AccessToken(s.Get(r, AccessTokenCookie)),
		RefreshToken: oidc.RefreshToken(s.Get(r, RefreshTokenCookie)),
		IDToken:      oidc.IDToken(s.Get(r, IDTokenCookie)),
	}
}

func (s *CookieStore) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.opts.Domain,
		MaxAge:   maxAge,
		Secure:   s.opts.Secure,
		SameSite: s.opts.SameSite,
	}
}
