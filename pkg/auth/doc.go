// Package auth resolves bearer tokens from the identity service into
// caller identities for the control API.
//
// Two token kinds exist. User tokens carry the subject, permission
// level and groups minted at login; beyond the RS256 signature check
// against the identity service's JWKS, the verifier asks the identity
// service whether the session behind the token is still live, so a
// logged-out token dies before its exp. Service tokens mark
// service-to-service calls; they are accepted on signature and exp
// alone but must be short-lived.
//
// The JWKS is cached and refreshed once on an unknown kid, which
// covers key rotation without restarting the orchestrator. Session
// answers can be cached briefly with SessionCache to keep dashboard
// polling from hammering the identity service.
package auth
