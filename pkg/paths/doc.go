/*
Package paths resolves the on-disk workspace layout.

The orchestrator owns a directory tree rooted at its own install
location, with managed services in sibling directories named
hivematrix-<name> under the common parent:

	parent/
	├── hivematrix-helm/          <- workspace root
	│   ├── instance/
	│   │   ├── configs/master_config.json
	│   │   ├── helm_logs.db
	│   │   └── helm_metrics.db
	│   ├── pids/<name>.pid
	│   ├── logs/<name>.stdout.log, <name>.stderr.log
	│   ├── thin-registry.json
	│   └── thick-registry.json
	├── hivematrix-core/
	│   └── keys/jwt_private.pem  <- generated on first sync
	└── hivematrix-nexus/

Layout is a pure path calculator except EnsureAll, which creates the
writable skeleton. WriteFileAtomic is the shared write-temp-then-rename
helper every persisted document goes through.
*/
package paths
