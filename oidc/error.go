package oidc

import "errors"

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrExpiredRequest             = errors.New("request is expired")
	ErrInvalidResponseState       = errors.New("invalid response state")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrMissingAccessToken         = errors.New("access_token is missing")
	ErrIDTokenVerificationFailed  = errors.New("id_token verification failed")
	ErrInvalidAudience            = errors.New("invalid audience")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrNotFound                   = errors.New("not found")
	ErrUserInfoFailed             = errors.New("user info failed")
	ErrUnauthorizedRedirectURI    = errors.New("unauthorized redirect_uri")
	ErrUnsupportedAlg             = errors.New("unsupported signing algorithm")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrMissingEndSessionEndpoint  = errors.New("provider has no end_session_endpoint")
	ErrRefreshFailed              = errors.New("token refresh failed")
	ErrUnsupportedPrompt          = errors.New("unsupported prompt")
	ErrInvalidCodeVerifier        = errors.New("invalid PKCE code verifier")
	ErrMissingRefreshToken        = errors.New("refresh_token is missing")
	ErrExchangeFailed             = errors.New("authorization code exchange failed")
	ErrUserInfoSubjectMismatch    = errors.New("user info subject does not match")
	ErrInvalidAuthorizationCode   = errors.New("invalid authorization code")
)
