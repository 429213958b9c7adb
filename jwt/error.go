package jwt

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidAlgorithm  = errors.New("invalid algorithm")
	ErrInvalidClaim      = errors.New("invalid claim")
	ErrTokenExpired      = errors.New("token is expired")
	ErrMissingTimeClaims = errors.New("no issued at (iat), not before (nbf), or expiration time (exp) claims in token")
)
