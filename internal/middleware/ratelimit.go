// ratelimit.go provides Gin middleware that enforces per-key rate limits, returning
// 429 responses when a route group's allowance is exhausted. The decision itself
// is delegated to a Limiter: the in-memory token bucket below for single-instance
// deployments, or RedisRateLimiter when several instances share one budget.
package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/one-account/one-account-api/internal/api/apierror"
	"github.com/one-account/one-account-api/internal/config"
	"github.com/one-account/one-account-api/internal/telemetry"
)

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether one more request under key fits limit
type Limiter interface {
	Allow(ctx context.Context, key string, limit config.RateLimit) (Decision, error)
}

// KeyFunc derives the rate limit key for a request
type KeyFunc func(c *gin.Context) string

// rateLimitEntry tracks the bucket for a single key
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
	burst      float64
	period     float64 // seconds to refill the whole bucket
}

// refill returns the token count at now, capped at the burst size
func (e *rateLimitEntry) refill(now time.Time) float64 {
	elapsed := now.Sub(e.lastUpdate).Seconds()
	return math.Min(e.burst, e.tokens+elapsed*e.burst/e.period)
}

// MemoryRateLimiter implements a token bucket rate limiter held in process memory.
// A limit of N requests per period is a bucket of N tokens refilled at N/period.
type MemoryRateLimiter struct {
	entries         map[string]*rateLimitEntry
	mu              sync.Mutex
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewMemoryRateLimiter creates a limiter and starts its cleanup goroutine
func NewMemoryRateLimiter(cleanupInterval time.Duration) *MemoryRateLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	rl := &MemoryRateLimiter{
		entries:         make(map[string]*rateLimitEntry),
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
		now:             time.Now,
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes buckets that have refilled completely; they
// are indistinguishable from a fresh key
func (rl *MemoryRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *MemoryRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, entry := range rl.entries {
		if entry.refill(now) >= entry.burst {
			delete(rl.entries, key)
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *MemoryRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow checks if a request under key should be allowed
func (rl *MemoryRateLimiter) Allow(_ context.Context, key string, limit config.RateLimit) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	burst := float64(limit.Requests)
	period := limit.Period().Seconds()

	entry, exists := rl.entries[key]
	if !exists {
		// New client, give them full burst
		entry = &rateLimitEntry{tokens: burst, lastUpdate: now, burst: burst, period: period}
		rl.entries[key] = entry
	}

	entry.tokens = entry.refill(now)
	entry.lastUpdate = now
	entry.burst = burst
	entry.period = period

	d := Decision{Limit: limit.Requests}
	if entry.tokens >= 1 {
		entry.tokens--
		d.Allowed = true
		d.Remaining = int(entry.tokens)
		return d, nil
	}

	d.RetryAfter = time.Duration((1 - entry.tokens) * period / burst * float64(time.Second))
	return d, nil
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests under
// name using keyFn. A limit with no requests configured disables the check.
// Limiter faults fail open: an unreachable Redis must not take logins down.
func RateLimitMiddleware(limiter Limiter, name string, limit config.RateLimit, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limit.Requests <= 0 {
			c.Next()
			return
		}

		key := name + ":" + keyFn(c)
		d, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "limiter", name, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			telemetry.RateLimitRejectionsTotal.WithLabelValues(name).Inc()
			apierror.Abort(c, http.StatusTooManyRequests, apierror.CodeTooManyRequests, "Too Many Attempts.")
			return
		}

		c.Next()
	}
}

// ClientIPKey keys by client IP
func ClientIPKey(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

// PrincipalKey keys by authenticated identity.
// Priority: user_id > api_key_id > IP address
func PrincipalKey(c *gin.Context) string {
	if userID, exists := c.Get(ContextUserID); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	if apiKeyID, exists := c.Get(ContextAPIKeyID); exists {
		if id, ok := apiKeyID.(string); ok && id != "" {
			return "apikey:" + id
		}
	}

	return ClientIPKey(c)
}

// LoginKey keys by the submitted email and the client IP so one address
// cannot lock out an account for everyone
func LoginKey(c *gin.Context) string {
	email := strings.ToLower(strings.TrimSpace(peekJSONField(c, "email")))
	return "login:" + email + "|" + c.ClientIP()
}

// MfaTokenKey keys by the submitted MFA token and the route, so each pipeline
// endpoint has its own budget per attempt
func MfaTokenKey(c *gin.Context) string {
	token := peekJSONField(c, "token")
	sum := sha256.Sum256([]byte(token + "|" + c.FullPath()))
	return "mfa:" + hex.EncodeToString(sum[:])
}

// maxPeekBytes bounds how much of a body is buffered to derive a key
const maxPeekBytes = 64 << 10

// peekJSONField reads a string field from a JSON body and restores the body
// for the handler
func peekJSONField(c *gin.Context, field string) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeekBytes))
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), c.Request.Body))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(fields[field], &value); err != nil {
		return ""
	}
	return value
}
