package middleware

import (
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// ClientIP rewrites RemoteAddr from X-Forwarded-For or X-Real-IP only when trustProxy is set.
// Without a proxy in front those headers are client supplied, so RemoteAddr stays the socket peer.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	if trustProxy {
		return chiMiddleware.RealIP
	}
	return func(next http.Handler) http.Handler { return next }
}
