package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/ask-assistant", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func TestRateLimiterIgnoresForwardedHeadersWithoutTrustedProxy(t *testing.T) {
	tests := []struct {
		name        string
		trustProxy  bool
		wantAllowed int
	}{
		{"direct", false, 2},
		{"behind proxy", true, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Use(ClientIP(tt.trustProxy))
			r.Use(NewRateLimiter(2, time.Minute, nil).Middleware)
			r.Post("/api/ask-assistant", okHandler)

			allowed := 0
			for i := 0; i < 50; i++ {
				req := requestFrom("203.0.113.9")
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
				w := httptest.NewRecorder()
				r.ServeHTTP(w, req)
				if w.Code == http.StatusOK {
					allowed++
				}
			}
			assert.Equal(t, tt.wantAllowed, allowed)
		})
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(3, 3*time.Second, nil)
	l.now = func() time.Time { return now }
	h := l.Middleware(okHandler)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestFrom("198.51.100.1"))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		assert.Equal(t, "3;w=3", w.Header().Get("RateLimit-Policy"))
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Header().Get("RateLimit"), "remaining=0")

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["code"])

	// Other clients have their own bucket.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("198.51.100.2"))
	assert.Equal(t, http.StatusOK, w.Code)

	// One token refills per window/amount.
	now = now.Add(time.Second)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("198.51.100.1"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiterHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(20, 5*time.Minute, nil)
	l.now = func() time.Time { return now }

	w := httptest.NewRecorder()
	l.Middleware(okHandler).ServeHTTP(w, requestFrom("203.0.113.9"))

	assert.Equal(t, "20;w=300", w.Header().Get("RateLimit-Policy"))
	assert.Equal(t, "limit=20, remaining=19, reset=15", w.Header().Get("RateLimit"))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/thread-messages", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/api/thread-messages", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.EqualValues(t, len("short and stout"), line["bytes"])
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/api/thread-messages", okHandler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/thread-messages", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://resume.example.com"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/ask-assistant", nil)
	req.Header.Set("Origin", "https://resume.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://resume.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/thread-messages", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	wildcard := CORS([]string{"*"})(okHandler)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://any.example.com")
	w = httptest.NewRecorder()
	wildcard.ServeHTTP(w, req)
	assert.Equal(t, "https://any.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}
