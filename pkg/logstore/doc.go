/*
Package logstore persists the centralized log stream for every
platform service in a single SQLite table.

Managed services post batches through the control API; the monitor
writes crash records directly. A batch is written in one immediate
transaction and is all-or-nothing: one malformed entry rejects the
whole batch with an error naming its position, so a client can fix and
resend without wondering what landed. Row ids are assigned in
submission order and stay monotonic for the life of the database.

Queries filter on any subset of service, minimum level, time range,
trace id, and user id, ordered newest first with limit/offset
pagination. The level threshold is expanded to an explicit IN list so
the (level, timestamp) index serves it.

A daily retention sweep deletes entries older than the configured
horizon (90 days by default). That sweep is the only mutation the
table ever sees.
*/
package logstore
