// Package auth provides optional bearer-token authentication for the
// troupe-gateway API.
//
// Tokens are JWTs signed with HS256 using the configured jwt_secret. The
// token's sub claim names the caller; no further identity storage exists, so
// possession of a valid token is the whole authorization model.
//
// The HTTP middleware gates only mutating routes (persona writes, provider
// probes, conversation stops). Read routes, the event streams, and the web
// console stay open. When auth.enabled is false the daemon swaps in
// Passthrough and every route is open.
//
// Minting a token:
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("operator", 24*time.Hour)
//
// Handlers downstream of RequireAuth can recover the caller with
// auth.FromContext(r.Context()).
package auth
