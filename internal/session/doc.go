// Package session stores the pending login requests of the authorization
// code flow: the state, nonce and PKCE verifier a callback needs to finish
// the login. Requests live in signed and encrypted cookies, in memory or in
// redis.
package session
