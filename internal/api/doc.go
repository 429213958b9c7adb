/*
Package api serves reportgate's HTTP routes:

	GET  /api/login           start a login (?silent=1 for check-sso)
	GET  /api/login/callback  finish a login, write the token cookies
	GET  /api/logout          clear the token cookies, end the realm session
	POST /api/refresh         refresh the token cookies
	GET  /api/me              claims of the signed in user
	GET  /api/reports         reports, for prosthetic users
	POST /api/reports         add a report, for administrators
	GET  /api/users           users, for administrators
	GET  /metrics             prometheus metrics, when enabled
	GET  /                    the shell with the report page

The API routes take the access token from the access_token cookie or an
Authorization: Bearer header. Without a valid one they answer 401 with a
JSON {"detail": ...} body, except for browsers, which are sent to the login
route instead. A user without the route's realm role gets a 403.
*/
package api
