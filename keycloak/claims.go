package keycloak

import (
	"encoding/json"
	"fmt"
	"time"
)

// Claims are the user claims of a Keycloak access token.
type Claims struct {
	Subject           string    `json:"sub"`
	Email             string    `json:"email,omitempty"`
	EmailVerified     bool      `json:"email_verified"`
	Name              string    `json:"name,omitempty"`
	PreferredUsername string    `json:"preferred_username,omitempty"`
	GivenName         string    `json:"given_name,omitempty"`
	FamilyName        string    `json:"family_name,omitempty"`
	Expiry            time.Time `json:"exp"`
	RealmRoles        []string  `json:"realm_roles"`

	// Raw holds every claim of the token.
	Raw map[string]interface{} `json:"-"`
}

// keycloakClaims is the token's JSON shape.
type keycloakClaims struct {
	Subject           string  `json:"sub"`
	Email             string  `json:"email"`
	EmailVerified     bool    `json:"email_verified"`
	Name              string  `json:"name"`
	PreferredUsername string  `json:"preferred_username"`
	GivenName         string  `json:"given_name"`
	FamilyName        string  `json:"family_name"`
	Expiry            float64 `json:"exp"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// NewClaims reads the Claims out of a verified token's claim set. The
// realm roles come from realm_access.roles.
func NewClaims(raw map[string]interface{}) (*Claims, error) {
	const op = "keycloak.NewClaims"
	if raw == nil {
		return nil, fmt.Errorf("%s: claims are nil: %w", op, ErrNilParameter)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var kc keycloakClaims
	if err := json.Unmarshal(b, &kc); err != nil {
		return nil, fmt.Errorf("%s: unable to read claims: %s: %w", op, err, ErrInvalidToken)
	}
	if kc.Subject == "" {
		return nil, fmt.Errorf("%s: missing sub claim: %w", op, ErrInvalidToken)
	}
	c := &Claims{
		Subject:           kc.Subject,
		Email:             kc.Email,
		EmailVerified:     kc.EmailVerified,
		Name:              kc.Name,
		PreferredUsername: kc.PreferredUsername,
		GivenName:         kc.GivenName,
		FamilyName:        kc.FamilyName,
		RealmRoles:        kc.RealmAccess.Roles,
		Raw:               raw,
	}
	if kc.Expiry > 0 {
		c.Expiry = time.Unix(int64(kc.Expiry), 0)
	}
	if c.RealmRoles == nil {
		c.RealmRoles = []string{}
	}
	return c, nil
}

// HasRealmRole reports whether the user has the realm role. An empty role
// is never granted.
func (c *Claims) HasRealmRole(role string) bool {
	if c == nil || role == "" {
		return false
	}
	for _, r := range c.RealmRoles {
		if r == role {
			return true
		}
	}
	return false
}
