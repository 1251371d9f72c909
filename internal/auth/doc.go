// Package auth provides bearer-JWT authentication for the operator API.
//
// Tokens are signed with HS256 using the configured jwt_secret. The
// admin CLI mints tokens with the same secret (`token create`), and the
// gateway's Middleware verifies them on every operator endpoint. When no
// secret is configured the middleware is a pass-through, which is only
// appropriate for local development.
package auth
