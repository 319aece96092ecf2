package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// SetClientIP stores the resolved client address on ctx.
func SetClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// GetClientIP returns the address stored by the ClientIP middleware.
func GetClientIP(r *http.Request) (string, bool) {
	ip, ok := r.Context().Value(clientIPKey).(string)
	return ip, ok && ip != ""
}
