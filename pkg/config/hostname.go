package config

import (
	"net"
	"os"
)

// DetectHostname determines the host identity for this boot. An
// explicit HELM_HOSTNAME wins; otherwise the first global unicast IPv4
// address is used so externally reachable installs advertise a real
// address. Hosts with only loopback addresses report "localhost".
func DetectHostname() string {
	if env := os.Getenv("HELM_HOSTNAME"); env != "" {
		return env
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP
		if ip.IsLoopback() || ip.To4() == nil {
			continue
		}
		if ip.IsGlobalUnicast() {
			return ip.String()
		}
	}
	return "localhost"
}

// HostnameChanged reports whether the detected identity differs from
// the stored one. A change triggers identity-provider reconciliation.
func HostnameChanged(stored, detected string) bool {
	return stored != "" && detected != "" && stored != detected
}
