/*
Package callback builds the http.HandlerFunc a relying party mounts at its
redirect URL. AuthCode finishes authorization code flows, PKCE included,
and passes silent (prompt=none) checks that found no session to the error
func as login_required.
*/
package callback
