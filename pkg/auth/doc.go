/*
Package auth issues and validates the gateway's bearer tokens.

Tokens are HS256 JWTs signed with the shared JWT_SECRET, carrying a
subject, an expiry, and a role claim. Two roles exist: client (task
operations, stats reads, backend callbacks) and admin (fleet and load
balancer administration). Admin implies client.

Operators mint tokens with the CLI:

	drover token create --subject ops@example.com --role admin --ttl 720h

There is no token store; validity is purely cryptographic, so revocation
means rotating JWT_SECRET.
*/
package auth
