package procfs

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Stats captures one reading of a process from /proc/<pid>/stat.
// CPUTicks is cumulative (utime + stime) for delta computation; RSS is
// resident pages converted to bytes.
type Stats struct {
	PID      int
	Comm     string
	State    byte
	CPUTicks uint64
	RSSBytes uint64
}

// ReadProcessStats reads the current stats for a PID. Returns nil on
// any failure (process gone, unparseable line); callers treat nil as
// "no reading available".
func ReadProcessStats(pid int) *Stats {
	return readProcessStatsFrom(fmt.Sprintf("/proc/%d/stat", pid), pid)
}

// readProcessStatsFrom is the testable version of ReadProcessStats
// that accepts a file path.
//
// The stat line is "pid (comm) state ppid ..." where comm may contain
// spaces and parentheses, so parsing anchors on the LAST closing paren.
// Field numbers after comm (1-based in proc(5)): 3=state, 14=utime,
// 15=stime, 24=rss pages.
func readProcessStatsFrom(path string, pid int) *Stats {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	line := strings.TrimSpace(string(data))

	open := strings.IndexByte(line, '(')
	closing := strings.LastIndexByte(line, ')')
	if open < 0 || closing < 0 || closing < open {
		return nil
	}
	comm := line[open+1 : closing]

	rest := strings.Fields(line[closing+1:])
	// rest[0]=state, rest[11]=utime, rest[12]=stime, rest[21]=rss.
	if len(rest) < 22 || len(rest[0]) == 0 {
		return nil
	}

	utime, err := strconv.ParseUint(rest[11], 10, 64)
	if err != nil {
		return nil
	}
	stime, err := strconv.ParseUint(rest[12], 10, 64)
	if err != nil {
		return nil
	}
	rssPages, err := strconv.ParseInt(rest[21], 10, 64)
	if err != nil || rssPages < 0 {
		return nil
	}

	return &Stats{
		PID:      pid,
		Comm:     comm,
		State:    rest[0][0],
		CPUTicks: utime + stime,
		RSSBytes: uint64(rssPages) * uint64(os.Getpagesize()),
	}
}

// ReadCmdline returns the process argv. Empty slice means the process
// is gone or is a kernel thread.
func ReadCmdline(pid int) []string {
	return readCmdlineFrom(fmt.Sprintf("/proc/%d/cmdline", pid))
}

// readCmdlineFrom is the testable version of ReadCmdline that accepts
// a file path. /proc cmdline files are NUL-separated with a trailing
// NUL.
func readCmdlineFrom(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	parts := bytes.Split(bytes.TrimRight(data, "\x00"), []byte{0})
	argv := make([]string, 0, len(parts))
	for _, p := range parts {
		argv = append(argv, string(p))
	}
	return argv
}

// Cwd returns the working directory of a live process, or "" when the
// process is gone or its /proc entry is unreadable.
func Cwd(pid int) string {
	dir, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
	if err != nil {
		return ""
	}
	return dir
}

// Alive reports whether a PID refers to a live process. Signal 0
// probes existence without delivering anything; EPERM still means the
// process exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}
