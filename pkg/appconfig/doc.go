// Package appconfig synthesizes per-service configuration files from
// the master config and the service catalog.
//
// Each managed service receives two files in its own checkout:
//
//   - .env: flat key=value environment for the process, covering
//     identity provider settings, peer service URLs, and database
//     endpoints.
//   - instance/<name>.conf: INI-style settings the service reads at
//     runtime, most importantly the [database] connection string.
//
// Generation is a pure function of its inputs. Running it twice
// produces byte-identical files, which keeps config sync idempotent
// and diffs meaningful.
//
// Two rewriting rules are load-bearing. The identity service gets the
// IDP's direct realm URL while every other service gets the proxied
// external form (unless the install runs on localhost). And passwords
// embedded in connection strings are URL-encoded; target services must
// parse the encoded form literally, because generated passwords
// routinely contain %, +, = and /.
package appconfig
