package main

import (
	"net"
	"net/url"
	"strings"
)

// listenerURL renders a reachable URL for a bound listener so log lines can
// be pasted straight into a browser or client.
func listenerURL(scheme, address, path string) string {
	u := url.URL{Scheme: scheme, Host: normaliseHostPort(address), Path: path}
	return u.String()
}

// normaliseHostPort swaps wildcard hosts for localhost and keeps the port.
func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
