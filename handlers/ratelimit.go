package handlers

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kb-service/config"
	"github.com/kb-service/models"
)

// RateLimiter enforces fixed-window daily limits, one global and one per
// client IP. Windows are UTC calendar days; all counters reset together at
// midnight UTC. Counters are process-local.
type RateLimiter struct {
	mu sync.Mutex

	globalLimit int
	ipLimit     int

	day         string
	globalCount int
	ipCounts    map[string]int

	now func() time.Time
}

type rateDecision struct {
	allowed         bool
	reason          string
	globalRemaining int
	ipRemaining     int
	resetAt         time.Time
}

func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		globalLimit: cfg.GlobalDailyLimit,
		ipLimit:     cfg.PerIPDailyLimit,
		ipCounts:    make(map[string]int),
		now:         time.Now,
	}
}

// hit records one request for ip and reports whether it is allowed.
// Remaining counts reflect the state after this request.
func (rl *RateLimiter) hit(ip string) rateDecision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now().UTC()
	day := now.Format("2006-01-02")
	if day != rl.day {
		rl.day = day
		rl.globalCount = 0
		rl.ipCounts = make(map[string]int)
	}

	resetAt := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)

	decision := rateDecision{resetAt: resetAt}

	if rl.globalCount >= rl.globalLimit {
		decision.reason = "global daily limit reached"
		decision.globalRemaining = 0
		decision.ipRemaining = rl.remainingForIP(ip)
		return decision
	}
	if rl.ipCounts[ip] >= rl.ipLimit {
		decision.reason = "per-client daily limit reached"
		decision.globalRemaining = rl.globalLimit - rl.globalCount
		decision.ipRemaining = 0
		return decision
	}

	rl.globalCount++
	rl.ipCounts[ip]++

	decision.allowed = true
	decision.globalRemaining = rl.globalLimit - rl.globalCount
	decision.ipRemaining = rl.ipLimit - rl.ipCounts[ip]
	return decision
}

func (rl *RateLimiter) remainingForIP(ip string) int {
	remaining := rl.ipLimit - rl.ipCounts[ip]
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Middleware applies the limiter to the routes it is attached to. CORS
// preflights pass through uncounted.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		ip := clientIP(c)
		decision := rl.hit(ip)

		c.Header("X-RateLimit-Limit-Global", strconv.Itoa(rl.globalLimit))
		c.Header("X-RateLimit-Remaining-Global", strconv.Itoa(decision.globalRemaining))
		c.Header("X-RateLimit-Limit-IP", strconv.Itoa(rl.ipLimit))
		c.Header("X-RateLimit-Remaining-IP", strconv.Itoa(decision.ipRemaining))
		c.Header("X-RateLimit-Reset", decision.resetAt.Format(time.RFC3339))

		if !decision.allowed {
			retryAfter := int(decision.resetAt.Sub(rl.now().UTC()).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:  "rate limit exceeded",
				Detail: fmt.Sprintf("%s, resets at %s", decision.reason, decision.resetAt.Format(time.RFC3339)),
			})
			return
		}

		c.Next()
	}
}

// clientIP resolves the originating address behind proxies: the first
// candidate that parses as an IP wins. Header order matters: the CDN
// header is the most trustworthy, the peer address is the last resort.
func clientIP(c *gin.Context) string {
	candidates := []string{
		c.GetHeader("cf-connecting-ip"),
		c.GetHeader("x-real-ip"),
	}
	if fwd := c.GetHeader("x-forwarded-for"); fwd != "" {
		candidates = append(candidates, strings.Split(fwd, ",")[0])
	}
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && net.ParseIP(candidate) != nil {
			return candidate
		}
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
