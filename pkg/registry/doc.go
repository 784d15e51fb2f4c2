// Package registry maintains the authoritative service catalog.
//
// The catalog merges two sources on every reconcile:
//
//  1. The static manifest (services-manifest.json) listing known
//     platform services in two buckets, core_required and
//     default_optional, plus non-service system_dependencies.
//  2. A filesystem scan of the parent directory for hivematrix-*
//     checkouts, which auto-registers services nobody told us about.
//
// Manifest data wins verbatim when a scanned name is known. Unknown
// names become "discovered" entries with a port derived from a stable
// hash of the name, so the same service lands on the same port on
// every host without coordination.
//
// Reconcile publishes two projection files for external consumers:
//
//   - thin-registry.json: name -> {url, port}, read by services for
//     peer discovery.
//   - thick-registry.json: the full entries including directory paths
//     and entrypoints, read by the supervisor.
//
// Both are written atomically and deterministically. A core_required
// service whose directory is missing fails the reconcile; the platform
// cannot run without its core.
package registry
