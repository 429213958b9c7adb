/*
Package jwt provides signature verification and claims set validation for JSON
Web Tokens (JWT) of the JWS form, such as the access tokens a Keycloak realm
issues to a relying party.

Primary types provided by the package:

* KeySet: Represents a set of keys that can be used to verify the signatures
of JWTs. A KeySet is expected to be backed by a set of local or remote keys.

* Validator: Provides signature verification and claims set validation
behavior for JWTs.

* Expected: Defines the expected claims values to assert when validating a JWT.

* Alg: Represents asymmetric signing algorithms.
*/
package jwt
