/*
Package health provides the probes the monitor uses to judge managed
services.

Three probe types cover the ladder from "is anything there" to "does
the service itself say it is fine":

	┌──────────────────────────────────────────────┐
	│              Checker Interface               │
	│  • Check(ctx) Result                         │
	│  • Type() CheckType                          │
	└────────┬─────────────────────────────────────┘
	         │
	   ┌─────┴────────┬───────────────┐
	   ▼              ▼               ▼
	┌─────────┐  ┌─────────┐  ┌─────────────┐
	│ Process │  │   TCP   │  │    HTTP     │
	│ Checker │  │ Checker │  │   Checker   │
	└─────────┘  └─────────┘  └─────────────┘
	     │            │              │
	     ▼            ▼              ▼
	 signal 0     connect       GET /health
	 + cmdline     :port        parse JSON

# Probe Ladder

The monitor runs the three probes in order for each service. A failed
process probe makes the later probes pointless (and their results
misleading, since another process may own the port), so the ladder
short-circuits:

 1. Process: PID alive, command line still matches the service.
 2. TCP: the service's port accepts a connection.
 3. HTTP: the health document says healthy or degraded.

# The Health Document

Services answer GET /health with a small JSON document:

	{
	  "status": "healthy",
	  "checks": {
	    "database": {"status": "healthy"},
	    "identity": {"status": "degraded", "detail": "slow"}
	  }
	}

Interpretation is strict:

	200 + status "healthy"   → healthy
	200 + status "degraded"  → degraded
	anything else            → unreachable

Non-200 responses, timeouts, connection errors, unparseable bodies and
unknown status strings all collapse to unreachable. A service that
cannot produce a valid health document gets no benefit of the doubt.

# Results

Every probe returns a Result carrying the observed state, a human
message, and timing. Result.Reachable() folds healthy and degraded
into "the service answered", which is what the monitor's crash
detection cares about.
*/
package health
