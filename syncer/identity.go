package syncer

import (
	"net"
	"os"
)

// DetectIdentity returns the address this host uses for outbound traffic,
// falling back to the hostname and then to "unknown".
// No packets are sent.
func DetectIdentity() string {
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsUnspecified() {
			return addr.IP.String()
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
