package middleware

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/glindsay/resume-assistant/internal/api"
	"github.com/glindsay/resume-assistant/internal/identity"
	"github.com/glindsay/resume-assistant/internal/metrics"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client IP with a token bucket that holds amount
// tokens and refills completely over window.
type RateLimiter struct {
	amount  int
	window  time.Duration
	every   rate.Limit
	clients *cache.Cache
	now     func() time.Time
	logger  *slog.Logger
}

// NewRateLimiter creates a limiter. Idle clients are forgotten after two windows.
func NewRateLimiter(amount int, window time.Duration, logger *slog.Logger) *RateLimiter {
	if amount <= 0 {
		amount = 20
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		amount:  amount,
		window:  window,
		every:   rate.Every(window / time.Duration(amount)),
		clients: cache.New(2*window, window),
		now:     time.Now,
		logger:  logger,
	}
}

// Middleware rejects requests over the limit with 429 and reports quota in
// RateLimit-Policy and RateLimit headers.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := identity.IPFromRequest(r)
		lim := l.limiterFor(key)
		now := l.now()

		allowed := lim.AllowN(now, 1)
		tokens := lim.TokensAt(now)
		remaining := int(math.Max(0, math.Floor(tokens)))

		w.Header().Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", l.amount, int(l.window.Seconds())))
		w.Header().Set("RateLimit", fmt.Sprintf("limit=%d, remaining=%d, reset=%d",
			l.amount, remaining, l.secondsUntil(float64(l.amount)-tokens)))

		if !allowed {
			metrics.RateLimited.Inc()
			l.logger.Warn("rate limit exceeded", "remote_ip", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(l.secondsUntil(1-tokens)))
			api.Problem(w, http.StatusTooManyRequests, api.ErrorBody{
				Error: "Too many requests, please try again later.",
				Code:  "rate_limited",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) limiterFor(key string) *rate.Limiter {
	if v, ok := l.clients.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.clients.Set(key, lim, cache.DefaultExpiration)
		return lim
	}

	lim := rate.NewLimiter(l.every, l.amount)
	if err := l.clients.Add(key, lim, cache.DefaultExpiration); err != nil {
		// Another request for the same client won the race.
		if v, ok := l.clients.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// secondsUntil returns how long the bucket needs to refill the given number of tokens.
func (l *RateLimiter) secondsUntil(tokens float64) int {
	if tokens <= 0 {
		return 0
	}
	return int(math.Ceil(tokens / float64(l.every)))
}
