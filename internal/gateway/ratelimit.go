package gateway

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/basket/clickgram/internal/config"
	"github.com/basket/clickgram/internal/otel"
)

const (
	defaultRequestsPerMinute = 600
	defaultBurstSize         = 60
)

// bucket is a token bucket; the Limiter mutex guards it.
type bucket struct {
	tokens  float64
	updated time.Time
}

// Limiter enforces a per-client-IP token bucket on the webhook routes.
// Telegram and ClickUp deliver from a small set of addresses, so the map
// stays small; idle buckets are evicted anyway.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	enabled bool
	now     func() time.Time
	metrics *otel.Metrics
}

func NewLimiter(cfg config.RateLimitConfig, metrics *otel.Metrics) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = defaultBurstSize
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.RequestsPerMinute) / 60,
		burst:   float64(cfg.BurstSize),
		enabled: cfg.Enabled,
		now:     time.Now,
		metrics: metrics,
	}
}

// Take spends one token from key's bucket. When the bucket is empty it
// reports how long until the next token.
func (l *Limiter) Take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, updated: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.updated).Seconds()*l.rate)
	b.updated = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

// Wrap limits next. route labels the reject metric.
func (l *Limiter) Wrap(route string, next http.Handler) http.Handler {
	if !l.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := l.Take(clientIP(r)); !ok {
			l.metrics.CountRateLimitReject(r.Context(), route)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Evict drops buckets idle for longer than maxAge and reports how many.
func (l *Limiter) Evict(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxAge)
	evicted := 0
	for key, b := range l.buckets {
		if b.updated.Before(cutoff) {
			delete(l.buckets, key)
			evicted++
		}
	}
	return evicted
}

// RunEviction calls Evict every interval until ctx is done.
func (l *Limiter) RunEviction(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evict(maxAge)
		}
	}
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

// clientIP is the host part of the remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
