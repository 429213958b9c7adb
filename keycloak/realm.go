package keycloak

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// RealmConfig identifies a Keycloak realm and the client registered in it.
type RealmConfig struct {
	// URL is the Keycloak base URL, for example https://sso.example.com
	URL string

	// Realm is the realm name.
	Realm string

	// ClientID is the client registered in the realm.
	ClientID string
}

// Issuer returns the realm's issuer: {URL}/realms/{Realm}
func (r RealmConfig) Issuer() string {
	return strings.TrimSuffix(r.URL, "/") + "/realms/" + url.PathEscape(r.Realm)
}

func (r RealmConfig) endpoint(name string) string {
	return r.Issuer() + "/protocol/openid-connect/" + name
}

func (r RealmConfig) AuthURL() string     { return r.endpoint("auth") }     // AuthURL is the realm's authorization endpoint.
func (r RealmConfig) TokenURL() string    { return r.endpoint("token") }    // TokenURL is the realm's token endpoint.
func (r RealmConfig) LogoutURL() string   { return r.endpoint("logout") }   // LogoutURL is the realm's end-session endpoint.
func (r RealmConfig) UserInfoURL() string { return r.endpoint("userinfo") } // UserInfoURL is the realm's userinfo endpoint.
func (r RealmConfig) CertsURL() string    { return r.endpoint("certs") }    // CertsURL is the realm's JWKS endpoint.

// Validate the realm config. Every problem found is reported.
func (r RealmConfig) Validate() error {
	const op = "RealmConfig.Validate"
	var result *multierror.Error
	if r.URL == "" {
		result = multierror.Append(result, fmt.Errorf("%s: keycloak URL is empty: %w", op, ErrInvalidParameter))
	} else if u, err := url.Parse(r.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("%s: keycloak URL %q is not an http(s) URL: %w", op, r.URL, ErrInvalidParameter))
	}
	if r.Realm == "" {
		result = multierror.Append(result, fmt.Errorf("%s: realm is empty: %w", op, ErrInvalidParameter))
	}
	if r.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter))
	}
	return result.ErrorOrNil()
}
