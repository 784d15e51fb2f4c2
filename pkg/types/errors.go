package types

import "errors"

// Sentinel error kinds. API handlers and the CLI map these to exit
// codes and HTTP statuses; supervisor callers match them with
// errors.Is. The messages double as the machine-readable kind strings
// recorded on ProcessRecord.LastErrorMessage.
var (
	ErrNotFound            = errors.New("not_found")
	ErrPortInUse           = errors.New("port_in_use")
	ErrAlreadyRunning      = errors.New("already_running")
	ErrSpawnFailed         = errors.New("spawn_failed")
	ErrStartTimeout        = errors.New("start_timeout")
	ErrStopFailed          = errors.New("stop_failed")
	ErrInvalidInput        = errors.New("invalid_input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
)

// ErrorKind extracts the machine-readable kind from an error chain,
// falling back to "internal" for anything unclassified.
func ErrorKind(err error) string {
	for _, sentinel := range []error{
		ErrNotFound, ErrPortInUse, ErrAlreadyRunning, ErrSpawnFailed,
		ErrStartTimeout, ErrStopFailed, ErrInvalidInput,
		ErrUnauthorized, ErrForbidden, ErrUpstreamUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal"
}
