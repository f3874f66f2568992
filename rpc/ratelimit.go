package rpc

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles vault mutations per caller identity. Read-only
// endpoints are left unthrottled; deposits, withdrawals and order reports go
// through a token bucket keyed by the client address.
type RateLimiter struct {
	log     *slog.Logger
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter allowing perMinute mutations with the given
// burst per client.
func NewRateLimiter(perMinute float64, burst int, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		log:     log,
		limit:   rate.Limit(perMinute / 60.0),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Middleware rejects requests exceeding the per-client budget with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)
		if !l.bucket(client).Allow() {
			l.log.Warn("rate limit exceeded", "client", client, "path", r.URL.Path)
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) bucket(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[client]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[client] = bucket
		time.AfterFunc(10*time.Minute, func() { l.evict(client) })
	}
	return bucket
}

func (l *RateLimiter) evict(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, client)
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
