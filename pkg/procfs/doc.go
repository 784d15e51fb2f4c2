// Package procfs reads per-process resource usage from the /proc
// filesystem. It deliberately parses only what the monitor needs: the
// stat line for CPU ticks and resident memory, cmdline for adoption
// checks, and a signal-0 probe for liveness. Readers return nil on any
// failure so a vanished process degrades to "no reading" instead of an
// error path.
package procfs
