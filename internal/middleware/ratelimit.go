package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimiterSweepInterval = 5 * time.Minute

// RateLimiter counts hits per key within a fixed window.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) RateDecision
	Close()
}

type RateDecision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

// RateLimit rejects requests with 429 once a client exceeds limit hits per window.
func RateLimit(limiter RateLimiter, route string, limit int, window time.Duration, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := route + ":" + clientIP(r)
			decision := limiter.Allow(key, limit, window)

			remaining := limit - decision.Count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !decision.WindowEnd.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.WindowEnd.Unix(), 10))
			}

			if !decision.Allowed {
				if metrics != nil {
					metrics.rateLimited.WithLabelValues(route).Inc()
				}
				RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys on the connection address. Forwarding headers are honoured
// only when the router rewrites RemoteAddr from them (chi's RealIP).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- In-memory limiter ---

type memoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]rateState
	stopCh  chan struct{}
	once    sync.Once
}

type rateState struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateLimiter returns a process-local limiter.
func NewMemoryRateLimiter() RateLimiter {
	rl := &memoryRateLimiter{
		entries: make(map[string]rateState),
		stopCh:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) RateDecision {
	if limit <= 0 {
		return RateDecision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.entries[key]
	if !ok || now.After(state.windowEnd) {
		state = rateState{count: 1, windowEnd: now.Add(window)}
		rl.entries[key] = state
		return RateDecision{Allowed: true, Count: state.count, WindowEnd: state.windowEnd}
	}
	if state.count >= limit {
		return RateDecision{Allowed: false, Count: state.count, WindowEnd: state.windowEnd}
	}
	state.count++
	rl.entries[key] = state
	return RateDecision{Allowed: true, Count: state.count, WindowEnd: state.windowEnd}
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *memoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, state := range rl.entries {
		if now.After(state.windowEnd) {
			delete(rl.entries, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}

// --- Redis limiter ---

type redisRateLimiter struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisRateLimiter returns a limiter shared by every server instance
// pointing at the same Redis.
func NewRedisRateLimiter(addr, password string, db int) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{
		client:  client,
		prefix:  "zhihu:ratelimit:",
		timeout: 250 * time.Millisecond,
	}, nil
}

// Allow fails open: a Redis error lets the request through.
func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) RateDecision {
	if limit <= 0 {
		return RateDecision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		logg.Error("middleware/ratelimit", "Redis incr failed", err)
		return RateDecision{Allowed: true}
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, window).Err(); err != nil {
			logg.Error("middleware/ratelimit", "Redis expire failed", err)
		}
	}
	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return RateDecision{
		Allowed:   int(counter) <= limit,
		Count:     int(counter),
		WindowEnd: time.Now().Add(ttl),
	}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}
