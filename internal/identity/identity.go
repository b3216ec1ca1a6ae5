// Package identity carries a visitor's conversation thread in an encrypted cookie.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/glindsay/resume-assistant/internal/tokencipher"
)

const (
	// ThreadCookieName holds the encrypted thread id.
	ThreadCookieName = "threadId"
	// DefaultCookieTTL is how long a conversation survives without activity.
	DefaultCookieTTL = 30 * time.Minute
)

type contextKey int

const (
	threadIDKey contextKey = iota
)

// ThreadIDFromContext returns the decrypted thread id, or "" when the visitor has none.
func ThreadIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(threadIDKey).(string); ok {
		return v
	}
	return ""
}

// WithThreadID returns ctx carrying threadID.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey, threadID)
}

// Sessions reads and writes the thread cookie.
type Sessions struct {
	cipher *tokencipher.Cipher
	ttl    time.Duration
	isDev  bool
	logger *slog.Logger
}

// NewSessions creates cookie helpers. Cookies are marked Secure outside development.
func NewSessions(cipher *tokencipher.Cipher, ttl time.Duration, isDev bool, logger *slog.Logger) *Sessions {
	if ttl <= 0 {
		ttl = DefaultCookieTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{cipher: cipher, ttl: ttl, isDev: isDev, logger: logger}
}

// Middleware decrypts the thread cookie into the request context.
// A cookie that fails to decrypt is treated as absent.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(ThreadCookieName)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		threadID, err := s.cipher.Decrypt(c.Value)
		if err != nil {
			s.logger.Warn("ignoring unreadable thread cookie", "remote_ip", IPFromRequest(r), "error", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithThreadID(r.Context(), threadID)))
	})
}

// SetThread encrypts threadID into a fresh cookie, restarting its expiry.
func (s *Sessions) SetThread(w http.ResponseWriter, threadID string) error {
	value, err := s.cipher.Encrypt(threadID)
	if err != nil {
		return fmt.Errorf("encrypt thread cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ThreadCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		Expires:  time.Now().Add(s.ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !s.isDev,
	})
	return nil
}

// Clear expires the thread cookie so the next visit starts a new conversation.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     ThreadCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !s.isDev,
	})
}

// IPFromRequest returns a normalized remote IP for logs and audit records.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
