// Package auth resolves the identity of WebSocket and REST callers.
//
// # Credentials
//
// A credential is an HS256 JWT signed with the configured jwt_secret. It is
// read, in order, from:
//
//   - the Authorization: Bearer header
//   - the access_token query parameter
//   - the discuss_token cookie
//
// Claims used: sub (user id, required), name (display name) and picture
// (avatar reference).
//
// # Graceful Degradation
//
// Authentication never rejects a caller. Absent, malformed or expired
// credentials produce the anonymous Identity, which may observe rooms but not
// publish, react or delete. When no secret is configured the Authenticator
// has no verifier and everyone is a guest.
//
// # Context Propagation
//
// OptionalAuthMiddleware stores the Identity in the request context:
//
//	id := auth.FromContext(r.Context())
//	if !id.IsAuthenticated() { ... }
package auth
