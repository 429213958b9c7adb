/*
Package oidc provides the relying party side of the OpenID Connect
authorization code flow, with PKCE and silent (prompt=none) checks, as used by
a browser facing application protected by a Keycloak realm.

Primary types provided by the package

* Request: represents one OIDC authentication flow for a user.  It contains
the data needed to uniquely represent that one-time flow across the multiple
interactions needed to complete it: state, nonce, PKCE verifier, prompts and
an expiration.

* Token: represents an OIDC id_token, as well as an Oauth2 access_token and
refresh_token (including the access_token expiry).

* Config: provides the configuration for the flow (for example: client
ID/secret, allowed redirect URLs, supported signing algorithms, additional
scopes requested, etc).

* Provider: provides integration with a provider. It generates auth URLs,
exchanges codes for tokens, refreshes tokens, verifies id_tokens, makes user
info requests and builds RP-initiated logout URLs.

* Alg: represents asymmetric signing algorithms.

* TestProvider: a local identity provider for tests.

The oidc/callback package

The callback package creates the http.HandlerFunc for the 3rd leg of the flow
where the authorization code is exchanged for tokens.
*/
package oidc
