/*
Package keycloak is the auth client for a single Keycloak realm. It builds
on the oidc package for the protocol work and adds what a web app needs
around it:

  * realm URLs derived from a base URL, a realm and a client id
  * the login request for an interactive login, or a silent check-sso
  * the callback handler, token refresh and logout
  * lifecycle event and tokens hooks, so the app can log what happens and
    store the tokens it receives
  * access token verification against the realm's keys

Example:

	c, err := keycloak.New(
		keycloak.RealmConfig{URL: "https://sso.example.com", Realm: "reports", ClientID: "reports-web"},
		"",
		"https://reports.example.com/api/login/callback",
		keycloak.WithEventHandler(keycloak.LogEvents(logger)),
		keycloak.WithTokensHandler(keycloak.LogTokens(logger)),
	)
	if err != nil {
		// handle error
	}
	defer c.Close()
	if err := c.Init(ctx); err != nil {
		// handle error
	}
*/
package keycloak
