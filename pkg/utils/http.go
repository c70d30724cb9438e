package utils

import (
	"io"
	"net"
	"net/http"
	"strings"
)

// DrainAndClose closes the given ReadCloser.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	// Drain to let the transport reuse the connection.
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}

// ClientIP extracts the originating client address, preferring the first
// X-Forwarded-For hop when the service sits behind a proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
