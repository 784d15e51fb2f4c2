/*
Package log provides structured logging for Helm using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable levels, and helpers for common
patterns. This is the orchestrator's own logging; the centralized
platform log store that managed services write into lives in
pkg/logstore and is a separate concern.

# Usage

Initialize once at startup:

	log.Init(log.Config{
		Level:      log.LevelFromEnv(os.Getenv("LOG_LEVEL")),
		JSONOutput: false,
	})

Create component loggers:

	logger := log.WithComponent("supervisor")
	logger.Info().Str("service", "core").Int("pid", pid).Msg("process started")

Console output (the default) renders human-readable lines for operators
running the CLI; `serve --log-json` switches to JSON for collection.

# Level Mapping

The platform convention for LOG_LEVEL uses Python logging names. The
mapping is DEBUG→debug, INFO→info, WARNING→warn, ERROR and
CRITICAL→error; anything else falls back to info.

# Integration Points

  - cmd/helm: initializes from flags and LOG_LEVEL
  - every pkg/*: component loggers via WithComponent
  - pkg/supervisor: per-service loggers via WithService
*/
package log
