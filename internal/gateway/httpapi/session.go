package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

const (
	sessionHeader   = "X-Session-ID"
	requestIDHeader = "X-Request-ID"
)

// resolveSession derives the tenant identity for a request. Precedence:
// an explicit X-Session-ID header, then a hash of the bearer token, then a
// hash of the client address. The fallbacks keep anonymous clients usable
// while still separating tenants.
func resolveSession(r *http.Request) string {
	if sid := strings.TrimSpace(r.Header.Get(sessionHeader)); sid != "" {
		return sid
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != "" {
			return hashID(token)
		}
	}
	return hashID(clientIP(r))
}

// hashID derives a stable, path-safe session name from a secret or address.
func hashID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// clientIP returns the originating address, preferring the first
// X-Forwarded-For hop when a reverse proxy is in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
