// reportgate is a report app that signs its users in through a Keycloak
// realm. It is made of a few packages:
//
//   - oidc: the OpenID Connect relying party (discovery, authorization code
//     flow with PKCE, refresh, end-session)
//   - oidc/callback: the http.HandlerFunc for the realm's redirect back
//   - jwt: access token verification against the realm's keys
//   - keycloak: the auth client for one realm, with lifecycle event and
//     tokens hooks
//   - shell: the context provider that keeps the tokens in cookies, and the
//     page shell the report view is mounted in
//
// The reportgate command (cmd/reportgate) puts them together with a sqlite
// store, pending login request stores and prometheus metrics.
package reportgate
