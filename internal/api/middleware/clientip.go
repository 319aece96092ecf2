package middleware

import (
	"net"
	"net/http"
	"strings"
)

const fallbackClientIP = "127.0.0.1"

// clientIPHeaders are consulted in order before the socket address.
var clientIPHeaders = []string{
	"Client-IP",
	"CF-Connecting-IP",
	"X-Forwarded-For",
	"X-Forwarded",
	"Forwarded-For",
	"Forwarded",
}

// ClientIP resolves the caller's address and stores it on the request
// context. Header values naming 127.0.0.1 are ignored so a local proxy does
// not mask the real client. When nothing usable is found the request is
// treated as local.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ResolveClientIP(r)
		next.ServeHTTP(w, r.WithContext(SetClientIP(r.Context(), ip)))
	})
}

// ResolveClientIP returns the first usable client address of r.
//
// The headers it reads are set by the client or any proxy in between and are
// not verified. The address is advisory: it lets the loopback check refuse
// scans from a local install, and keys the rate limiter. It is not an access
// control boundary.
func ResolveClientIP(r *http.Request) string {
	for _, h := range clientIPHeaders {
		v := headerAddr(h, r.Header.Get(h))
		if v == "" || strings.Contains(v, fallbackClientIP) {
			continue
		}
		return v
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return fallbackClientIP
	}
	return host
}

// headerAddr extracts the first address from a header value. Forwarded uses
// the "for=" parameter; list-valued headers yield their first entry.
func headerAddr(name, v string) string {
	first, _, _ := strings.Cut(v, ",")
	first = strings.TrimSpace(first)
	if name != "Forwarded" {
		return first
	}
	for _, part := range strings.Split(first, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(key, "for") {
			continue
		}
		val = strings.Trim(val, `"`)
		if strings.HasPrefix(val, "[") {
			if end := strings.Index(val, "]"); end > 0 {
				return val[1:end]
			}
		}
		if host, _, err := net.SplitHostPort(val); err == nil {
			return host
		}
		return val
	}
	return ""
}
