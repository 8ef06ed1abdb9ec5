package util

import (
	"fmt"
	"net"
	"strconv"
)

// NormalizeAddr returns addr as "host:port", appending defPort when addr
// carries no port.  The port must be numeric and in 1..65535.
func NormalizeAddr(addr string, defPort int) (string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port (or a bare IPv6 literal): try again with the default.
		if defPort <= 0 {
			return "", fmt.Errorf("address %q: missing port", addr)
		}
		host, portStr = addr, strconv.Itoa(defPort)
		if len(host) > 1 && host[0] == '[' && host[len(host)-1] == ']' {
			host = host[1 : len(host)-1]
		}
	}
	if host == "" {
		return "", fmt.Errorf("address %q: missing host", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("address %q: invalid port %q", addr, portStr)
	}
	return FormatAddr(host, port), nil
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
