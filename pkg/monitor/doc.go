// Package monitor runs the periodic health sweep over every catalog
// service.
//
// Each sweep probes services concurrently; within one service the
// probes run in a fixed ladder: process liveness first, then TCP port,
// then an HTTP GET of /health. A service is reported running only
// while the process probe passes; health is evaluated only for running
// services. A process that vanishes between sweeps is marked crashed
// on its supervisor record, written to the central log store at ERROR
// level with its exit code when one was captured, and reported as
// error until the next successful start.
//
// Sweeps also sample CPU and memory from /proc for every running
// service. CPU is the fraction of one core used since the previous
// sweep; samples land in the metric store and surface through the
// Prometheus collector via the Statuses snapshot.
package monitor
