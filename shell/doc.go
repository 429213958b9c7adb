/*
Package shell mounts the app's views behind a keycloak.Client.

The Provider is the app's context provider: it works out, from the token
cookies, whether the user is signed in (refreshing the tokens when needed)
and hands the answer to the views through the request context. TokenCookies
is the tokens hook that keeps those cookies current: every token the client
obtains is stored verbatim under access_token, refresh_token or id_token.

Shell renders the page around a child View, and ReportPage is the report
view.
*/
package shell
