package registry

import (
	"fmt"
	"hash/crc32"
	"net"
)

const (
	// portBase is where derived service ports start.
	portBase = 5000
	// portSpan bounds derived ports to [portBase, portBase+portSpan).
	portSpan = 900
)

// DerivePort computes a stable port for a service that has no manifest
// assignment. The same name always maps to the same port across hosts
// and restarts, so freshly discovered services get predictable URLs
// before anyone edits the manifest.
func DerivePort(name string) int {
	sum := crc32.ChecksumIEEE([]byte(name))
	return portBase + int(sum%portSpan)
}

// PortFree reports whether a TCP port can currently be bound on the
// loopback interface. A false result means something is listening, not
// necessarily one of ours.
func PortFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// nextFreeDerived walks forward from the derived port until it finds a
// value not already claimed in taken. It mutates nothing; callers
// record the claim.
func nextFreeDerived(name string, taken map[int]string) int {
	port := DerivePort(name)
	for i := 0; i < portSpan; i++ {
		candidate := portBase + (port-portBase+i)%portSpan
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
	// All 900 slots taken is not a realistic catalog; signal with 0 and
	// let the caller turn it into an error.
	return 0
}
