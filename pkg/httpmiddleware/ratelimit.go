package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Limit() int
}

// KeyFunc extracts the rate limit key of a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the first X-Forwarded-For hop, then X-Real-IP,
// then the peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests over the limit with 429 and sets the
// X-RateLimit-* headers on every response. Limiter failures let the request
// through.
func RateLimit(l Limiter, key KeyFunc) Middleware {
	if key == nil {
		key = ClientIP
	}
	limit := strconv.Itoa(l.Limit())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), key(r))
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				wait := max(time.Until(d.ResetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type window struct {
	prev, curr float64
	start      time.Time
}

// SlidingWindow is an in-process Limiter that weights the previous window by
// its overlap with the sliding one.
type SlidingWindow struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewSlidingWindow allows limit requests per key in any window-long interval.
func NewSlidingWindow(limit int, size time.Duration) *SlidingWindow {
	return &SlidingWindow{
		max:     limit,
		window:  size,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

func (s *SlidingWindow) Limit() int { return s.max }

func (s *SlidingWindow) Allow(_ context.Context, key string) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &window{start: now.Truncate(s.window)}
		s.windows[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= s.window {
		if elapsed >= 2*s.window {
			w.prev = 0
		} else {
			w.prev = w.curr
		}
		w.curr = 0
		w.start = now.Truncate(s.window)
	}

	overlap := max(1-now.Sub(w.start).Seconds()/s.window.Seconds(), 0)
	count := w.prev*overlap + w.curr
	d := Decision{ResetAt: w.start.Add(s.window)}
	if count >= float64(s.max) {
		return d, nil
	}
	w.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(s.max)-count-1), 0)
	return d, nil
}

// Run evicts idle keys every two windows until ctx is done.
func (s *SlidingWindow) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.evict(s.now())
		}
	}
}

func (s *SlidingWindow) evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		if now.Sub(w.start) >= 2*s.window {
			delete(s.windows, key)
		}
	}
}

// RedisWindow is a fixed-window Limiter shared by every replica through
// Redis.
type RedisWindow struct {
	client redis.UniversalClient
	max    int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisWindow allows limit requests per key in each window.
func NewRedisWindow(client redis.UniversalClient, limit int, size time.Duration) *RedisWindow {
	return &RedisWindow{
		client: client,
		max:    limit,
		window: size,
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

func (l *RedisWindow) Limit() int { return l.max }

func (l *RedisWindow) Allow(ctx context.Context, key string) (Decision, error) {
	start := l.now().Truncate(l.window)
	k := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, l.window)
		return nil
	}); err != nil {
		return Decision{}, errors.Wrap(err, "count request")
	}

	n := int(incr.Val())
	return Decision{
		Allowed:   n <= l.max,
		Remaining: max(l.max-n, 0),
		ResetAt:   start.Add(l.window),
	}, nil
}
