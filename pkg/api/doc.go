// Package api implements the orchestrator's control-plane HTTP API.
//
// Every management surface goes through here: the dashboard, the CLI
// in remote mode, and the managed services themselves (log shipping).
// The server is a thin JSON layer over the orchestrator's subsystems;
// it owns transport, authentication and error mapping, never domain
// logic.
//
// # Routes
//
//	GET  /health                       orchestrator self-health (unauthenticated)
//	GET  /metrics                      Prometheus exposition (unauthenticated)
//
//	GET  /api/services                 service catalog
//	GET  /api/services/status          all service statuses
//	GET  /api/services/{name}/status   one service status
//	POST /api/services/{name}/start    start (admin)
//	POST /api/services/{name}/stop     stop (admin)
//	POST /api/services/{name}/restart  restart (admin)
//
//	POST /api/logs/ingest              batch log ingestion
//	GET  /api/logs                     filtered log pages {total, limit, offset, logs}
//	GET  /api/logs/{id}                one log entry
//	GET  /api/logs/stats               counts by level since a cutoff
//
//	GET  /api/metrics/{name}           stored resource samples
//	GET  /api/dashboard/status         statuses + per-service log counts
//
//	GET  /api/config                   redacted master config (admin)
//	POST /api/config                   deep-merge config patch (admin)
//	POST /api/idp/bootstrap            reconcile the identity provider (admin)
//	/api/idp/users, /api/idp/groups    user management passthrough (admin)
//
// # Authentication
//
// Everything under /api requires a bearer token minted by the identity
// service. User tokens are checked for signature, expiry and a live
// session; service tokens for signature and their short-lifetime
// contract. The resolved identity rides the request context; mutating
// routes additionally require an admin user or a service token.
//
// # Errors
//
// Failures are {"error": kind, "message": detail}. The kind comes from
// the sentinel error chain (types.ErrorKind) and determines the HTTP
// status: not_found 404, already_running 409, port_in_use 422,
// invalid_input 400, unauthorized 401, forbidden 403,
// upstream_unavailable 502, everything else 500.
package api
