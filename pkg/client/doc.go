/*
Package client provides a Go client library for the orchestrator's
control API.

The client package wraps the JSON/HTTP control API with a convenient,
idiomatic Go interface. It handles bearer-token authentication, request
timeouts, error decoding, and provides type-safe methods for every
platform operation. It also ships the LogShipper, the batching log
client every managed service embeds to deliver its logs to the
centralized store.

# Architecture

The client provides a high-level interface to the control API:

	┌──────────────────── APPLICATION CODE ────────────────────┐
	│                                                           │
	│  import "github.com/hivematrix/helm/pkg/client"           │
	│                                                           │
	│  c := client.NewClientWithToken("http://localhost:5004",  │
	│          token)                                           │
	│  status, err := c.Start("ledger", "")                     │
	│                                                           │
	└──────────────────┬────────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ────────────────────────┐
	│                                                           │
	│  ┌──────────────────────────────────────────────┐         │
	│  │           Client Wrapper                      │         │
	│  │  - Method per operation                       │         │
	│  │  - Per-call timeouts                          │         │
	│  │  - Error kinds decoded to sentinels           │         │
	│  │  - Connection pooling                         │         │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │         HTTP Client (bearer token)            │          │
	│  │  - Authorization: Bearer <JWT>                │          │
	│  │  - JSON request/response bodies               │          │
	│  └──────────────────┬───────────────────────────┘          │
	└─────────────────────┼─────────────────────────────────────┘
	                      │ HTTP (port 5004)
	                      ▼
	              Orchestrator Control API

# Error Handling

Non-2xx responses carry a machine-readable kind in the body. The
client decodes it back into the matching sentinel from pkg/types, so
error handling looks the same whether the operation ran in-process or
over the wire:

	_, err := c.Start("ledger", "")
	switch {
	case errors.Is(err, types.ErrNotFound):
		// unknown service
	case errors.Is(err, types.ErrAlreadyRunning):
		// nothing to do
	case errors.Is(err, types.ErrUpstreamUnavailable):
		// orchestrator not reachable
	}

# Usage

Creating a client:

	c := client.NewClientWithToken("http://localhost:5004", token)
	defer c.Close()

Service lifecycle:

	status, err := c.Start("ledger", types.RunModeDevelopment)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s: %s (pid %d)\n", status.ServiceName, status.Status, status.PID)

	statuses, err := c.Statuses()
	for name, st := range statuses {
		fmt.Printf("- %s: %s/%s\n", name, st.Status, st.Health)
	}

Querying logs:

	page, err := c.QueryLogs(types.LogFilter{
		ServiceName: "ledger",
		MinLevel:    types.LevelWarning,
		Limit:       50,
	})
	for _, entry := range page.Logs {
		fmt.Printf("%s [%s] %s\n", entry.Timestamp, entry.Level, entry.Message)
	}

# Shipping Logs

Managed services deliver their own logs with the LogShipper. Entries
buffer locally and ship in batches of ten, every five seconds, or
immediately for errors:

	shipper := client.NewLogShipper(c, "ledger")
	defer shipper.Close()

	shipper.Info("service started")
	shipper.Error("database connection failed")

	shipper.Log(types.LogEntry{
		Level:   types.LevelWarning,
		Message: "slow query",
		Context: map[string]any{"ms": 1210},
		TraceID: traceID,
	})

When the orchestrator is unreachable the shipper retries with the
batch intact; after repeated failures it writes the batch to stderr
and drops it instead of growing without bound.

# See Also

  - pkg/api for the server-side implementation
  - pkg/types for the shared wire types and error kinds
  - pkg/logstore for the store behind the log endpoints
  - cmd/helm for CLI usage examples
*/
package client
