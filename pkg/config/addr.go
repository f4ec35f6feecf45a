package config

import (
	"net"
	"strconv"
	"strings"
)

func isPortNumber(s string) bool {
	port, err := strconv.Atoi(s)
	return err == nil && port > 0 && port < 65536
}

// NormalizeAddr normalizes a listen or dial address.
// - If address is only a port number (e.g., "5000"), prepend defaultHost.
// - If address is hostname without port, append defaultPort.
// - If the host part is empty (e.g., ":5000"), defaultHost is used.
// Returns normalized address in "host:port" format.
func NormalizeAddr(addr, defaultHost, defaultPort string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return net.JoinHostPort(defaultHost, defaultPort)
	}

	if strings.Contains(addr, ":") {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			// Bare IPv6 literal without port
			if ip := net.ParseIP(addr); ip != nil {
				return net.JoinHostPort(addr, defaultPort)
			}
			return net.JoinHostPort(defaultHost, defaultPort)
		}
		if host == "" {
			host = defaultHost
		}
		if !isPortNumber(port) {
			port = defaultPort
		}
		return net.JoinHostPort(host, port)
	}

	if isPortNumber(addr) {
		return net.JoinHostPort(defaultHost, addr)
	}

	return net.JoinHostPort(addr, defaultPort)
}
