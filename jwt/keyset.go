package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"sort"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/protezlab/reportgate/oidc"
	"gopkg.in/square/go-jose.v2/jwt"
)

// KeySet verifies the signature of a JWT and returns the claims in its
// payload. A KeySet is backed by local or remote keys.
type KeySet interface {
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

var (
	_ KeySet = (*OIDCDiscoveryKeySet)(nil)
	_ KeySet = (*JSONWebKeySet)(nil)
	_ KeySet = (*StaticKeySet)(nil)
)

// OIDCDiscoveryKeySet verifies signatures with the keys named by an issuer's
// discovery document (jwks_uri).
type OIDCDiscoveryKeySet struct {
	provider *gooidc.Provider
}

// NewOIDCDiscoveryKeySet discovers the issuer and returns a KeySet backed by
// its published keys. caPEM, when set, replaces the system roots for the
// requests to the issuer.
//
// The ctx is kept by the KeySet and used for later key refreshes.
func NewOIDCDiscoveryKeySet(ctx context.Context, issuer string, caPEM string) (*OIDCDiscoveryKeySet, error) {
	const op = "jwt.NewOIDCDiscoveryKeySet"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	caCtx, err := clientContext(ctx, caPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	provider, err := gooidc.NewProvider(caCtx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover %s: %w", op, issuer, err)
	}
	return &OIDCDiscoveryKeySet{provider: provider}, nil
}

// VerifySignature verifies the token's signature only. Issuer, audience,
// algorithm and lifetime are left to the Validator.
func (ks *OIDCDiscoveryKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "OIDCDiscoveryKeySet.VerifySignature"
	verifier := ks.provider.Verifier(&gooidc.Config{
		SkipClientIDCheck:    true,
		SkipExpiryCheck:      true,
		SkipIssuerCheck:      true,
		SupportedSigningAlgs: supportedAlgorithmNames(),
	})
	idToken, err := verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	claims := map[string]interface{}{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to read claims: %w", op, err)
	}
	return claims, nil
}

// JSONWebKeySet verifies signatures with the keys served at a JWKS URL, for
// example a realm's /protocol/openid-connect/certs endpoint. The keys are
// fetched on first use and again when a token names an unknown key id.
type JSONWebKeySet struct {
	remote gooidc.KeySet
}

// NewJSONWebKeySet returns a KeySet backed by the JWKS at jwksURL. caPEM,
// when set, replaces the system roots for the requests to jwksURL.
//
// The ctx is kept by the KeySet and used for the key fetches, so cancelling
// it stops them.
func NewJSONWebKeySet(ctx context.Context, jwksURL string, caPEM string) (*JSONWebKeySet, error) {
	const op = "jwt.NewJSONWebKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks url is empty: %w", op, ErrInvalidParameter)
	}
	caCtx, err := clientContext(ctx, caPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &JSONWebKeySet{remote: gooidc.NewRemoteKeySet(caCtx, jwksURL)}, nil
}

// VerifySignature verifies the token's signature only.
func (ks *JSONWebKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "JSONWebKeySet.VerifySignature"
	payload, err := ks.remote.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSignature, err)
	}
	claims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%s: unable to read claims: %w", op, err)
	}
	return claims, nil
}

// StaticKeySet verifies signatures with local public keys.
type StaticKeySet struct {
	publicKeys []interface{}
}

// NewStaticKeySet returns a KeySet backed by PEM encoded public keys, each
// either a PKIX public key or an x509 certificate.
func NewStaticKeySet(publicKeys []string) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys: %w", op, ErrInvalidParameter)
	}
	parsed := make([]interface{}, 0, len(publicKeys))
	for i, k := range publicKeys {
		key, err := ParsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: key %d: %w", op, i, err)
		}
		parsed = append(parsed, key)
	}
	return &StaticKeySet{publicKeys: parsed}, nil
}

// VerifySignature verifies the token's signature with the first key that
// accepts it.
func (ks *StaticKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	const op = "StaticKeySet.VerifySignature"
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse token: %w", op, err)
	}
	for _, key := range ks.publicKeys {
		claims := map[string]interface{}{}
		if err := parsed.Claims(key, &claims); err == nil {
			return claims, nil
		}
	}
	return nil, fmt.Errorf("%s: no key accepted the token: %w", op, ErrInvalidSignature)
}

// ParsePublicKeyPEM parses an RSA, ECDSA or Ed25519 public key from a PEM
// encoded PKIX public key or x509 certificate. It returns a *rsa.PublicKey,
// *ecdsa.PublicKey or ed25519.PublicKey.
func ParsePublicKeyPEM(data []byte) (interface{}, error) {
	const op = "jwt.ParsePublicKeyPEM"
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block: %w", op, ErrInvalidPublicKey)
	}
	raw, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidPublicKey, err)
		}
		raw = cert.PublicKey
	}
	switch k := raw.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%s: unsupported key type %T: %w", op, raw, ErrInvalidPublicKey)
	}
}

// clientContext returns ctx carrying an http client that trusts caPEM, or
// ctx itself when caPEM is empty.
func clientContext(ctx context.Context, caPEM string) (context.Context, error) {
	if caPEM == "" {
		return ctx, nil
	}
	client, err := oidc.NewHTTPClient(caPEM)
	if err != nil {
		return nil, err
	}
	return oidc.HTTPClientContext(ctx, client), nil
}

func supportedAlgorithmNames() []string {
	names := make([]string, 0, len(supportedAlgorithms))
	for a := range supportedAlgorithms {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return names
}
