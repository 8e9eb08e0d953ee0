// CLAUDE:SUMMARY HTTP middleware stack for the wirediff API: HEAD-as-GET, security headers, per-request access logging.
// Package shield provides the HTTP middleware wrapped around the wirediff
// API. Use APIStack for the standard ordering.
package shield

import (
	"log/slog"
	"net/http"
)

// APIStack returns the middleware stack for the API, outermost first:
// HeadToGet → SecurityHeaders → RequestLog. It expects chi's RequestID
// middleware to run before it.
func APIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		RequestLog(logger),
	}
}

// HeadToGet serves HEAD through GET routes; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
