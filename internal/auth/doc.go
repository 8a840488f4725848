// Package auth provides bearer token authentication for cad-bridge.
//
// # Verification
//
// Two verifier implementations share the TokenVerifier interface:
//
//   - JWTVerifier: HS256-signed JWTs with the principal in the "sub" claim.
//     Tokens are minted with Generate (see `cad-bridge token`).
//
//   - StaticVerifier: long-lived tokens provisioned in the config file as
//     bcrypt hashes (see `cad-bridge hash-token`). A dummy comparison keeps
//     verification timing constant when nothing matches.
//
// ChainVerifier composes them; the first verifier to accept wins.
//
// # HTTP Integration
//
// HTTPAuthMiddleware guards streaming endpoints, attaching an AuthContext
// with the principal ID to the request context. Dispatch endpoints instead
// pass the raw bearer token through to the router, which performs the check
// itself before any provider logic runs.
package auth
