package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the only challenge method this package creates; "plain" is
	// intentionally not supported.
	//
	// See: https://tools.ietf.org/html/rfc7636#section-4.3
	S256 ChallengeMethod = "S256"
)

const (
	// verifierLen is the length of a generated verifier: 32 random bytes,
	// base64url encoded without padding.
	verifierLen = 43

	minVerifierLen = 43
	maxVerifierLen = 128
)

// CodeVerifier represents an OAuth PKCE code verifier.
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier (see:
	// https://tools.ietf.org/html/rfc7636#section-4.1)
	Verifier() string

	// Challenge returns the code verifier's code challenge (see:
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Challenge() string

	// Method returns the code verifier's challenge method (see
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Method() ChallengeMethod

	// Copy returns a copy of the verifier
	Copy() CodeVerifier
}

// S256Verifier represents an OAuth PKCE code verifier that uses the S256
// challenge method.  It implements the CodeVerifier interface.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new CodeVerifier (*S256Verifier).
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
func NewCodeVerifier() (*S256Verifier, error) {
	const op = "NewCodeVerifier"
	data, err := uuid.GenerateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read random bytes: %w", op, err)
	}
	return newS256Verifier(base64.RawURLEncoding.EncodeToString(data))
}

// ParseCodeVerifier rebuilds an S256 verifier from a previously generated
// verifier string, which is how a verifier survives being persisted between
// the login redirect and the callback.
func ParseCodeVerifier(verifier string) (*S256Verifier, error) {
	const op = "ParseCodeVerifier"
	if len(verifier) < minVerifierLen || len(verifier) > maxVerifierLen {
		return nil, fmt.Errorf("%s: verifier length %d is not between %d and %d: %w", op, len(verifier), minVerifierLen, maxVerifierLen, ErrInvalidCodeVerifier)
	}
	return newS256Verifier(verifier)
}

func newS256Verifier(verifier string) (*S256Verifier, error) {
	v := &S256Verifier{
		verifier: verifier,
		method:   S256,
	}
	var err error
	if v.challenge, err = CreateCodeChallenge(S256, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// Copy returns a copy of the verifier.
func (v *S256Verifier) Copy() CodeVerifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CreateCodeChallenge creates a code challenge from the verifier. Supported
// ChallengeMethods: S256
//
// See: https://tools.ietf.org/html/rfc7636#section-4.2
func CreateCodeChallenge(method ChallengeMethod, v CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	switch method {
	case S256:
		h := sha256.Sum256([]byte(v.Verifier()))
		return base64.RawURLEncoding.EncodeToString(h[:]), nil
	default:
		return "", fmt.Errorf("%s: %s is invalid: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}
