package api

import (
	"net"
	"net/http"
	"strings"
)

// ClientOrigin returns the "ip:port" of the caller. When the direct peer is
// one of trustedProxies, the first X-Forwarded-For hop replaces the peer IP
// and the port is dropped since it is not forwarded.
func ClientOrigin(r *http.Request, trustedProxies []string) string {
	host, port, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" && isTrusted(host, trustedProxies) {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}

	return net.JoinHostPort(host, port)
}

func isTrusted(host string, trustedProxies []string) bool {
	for _, proxy := range trustedProxies {
		if proxy == host {
			return true
		}
	}
	return false
}
