package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kb-service/config"
)

func newLimitedRouter(limiter *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/limited", limiter.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.OPTIONS("/limited", limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func doRequest(router *gin.Engine, method string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/limited", nil)
	req.RemoteAddr = "192.0.2.1:54321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	t.Run("per-ip limit returns 429 with headers", func(t *testing.T) {
		limiter := NewRateLimiter(&config.RateLimitConfig{GlobalDailyLimit: 100, PerIPDailyLimit: 2})
		router := newLimitedRouter(limiter)

		first := doRequest(router, http.MethodPost, nil)
		require.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining-IP"))
		assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit-IP"))

		second := doRequest(router, http.MethodPost, nil)
		require.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining-IP"))

		third := doRequest(router, http.MethodPost, nil)
		require.Equal(t, http.StatusTooManyRequests, third.Code)
		assert.Equal(t, "0", third.Header().Get("X-RateLimit-Remaining-IP"))
		assert.NotEmpty(t, third.Header().Get("Retry-After"))
		assert.NotEmpty(t, third.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("global limit caps all clients", func(t *testing.T) {
		limiter := NewRateLimiter(&config.RateLimitConfig{GlobalDailyLimit: 1, PerIPDailyLimit: 10})
		router := newLimitedRouter(limiter)

		first := doRequest(router, http.MethodPost, map[string]string{"x-real-ip": "10.0.0.1"})
		require.Equal(t, http.StatusOK, first.Code)

		second := doRequest(router, http.MethodPost, map[string]string{"x-real-ip": "10.0.0.2"})
		require.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining-Global"))
	})

	t.Run("counters reset at the utc day boundary", func(t *testing.T) {
		limiter := NewRateLimiter(&config.RateLimitConfig{GlobalDailyLimit: 100, PerIPDailyLimit: 1})
		current := time.Date(2026, 8, 24, 23, 59, 0, 0, time.UTC)
		limiter.now = func() time.Time { return current }
		router := newLimitedRouter(limiter)

		require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, nil).Code)
		require.Equal(t, http.StatusTooManyRequests, doRequest(router, http.MethodPost, nil).Code)

		current = current.Add(2 * time.Minute)
		assert.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, nil).Code)
	})

	t.Run("separate ips have separate budgets", func(t *testing.T) {
		limiter := NewRateLimiter(&config.RateLimitConfig{GlobalDailyLimit: 100, PerIPDailyLimit: 1})
		router := newLimitedRouter(limiter)

		require.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, map[string]string{"x-real-ip": "10.0.0.1"}).Code)
		require.Equal(t, http.StatusTooManyRequests, doRequest(router, http.MethodPost, map[string]string{"x-real-ip": "10.0.0.1"}).Code)
		assert.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, map[string]string{"x-real-ip": "10.0.0.2"}).Code)
	})

	t.Run("preflight requests are not counted", func(t *testing.T) {
		limiter := NewRateLimiter(&config.RateLimitConfig{GlobalDailyLimit: 100, PerIPDailyLimit: 1})
		router := newLimitedRouter(limiter)

		for i := 0; i < 5; i++ {
			require.Equal(t, http.StatusNoContent, doRequest(router, http.MethodOptions, nil).Code)
		}
		assert.Equal(t, http.StatusOK, doRequest(router, http.MethodPost, nil).Code)
	})
}

func TestClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	resolve := func(headers map[string]string) string {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.RemoteAddr = "198.51.100.7:1234"
		for k, v := range headers {
			c.Request.Header.Set(k, v)
		}
		return clientIP(c)
	}

	t.Run("cdn header wins", func(t *testing.T) {
		ip := resolve(map[string]string{
			"cf-connecting-ip": "203.0.113.1",
			"x-real-ip":        "203.0.113.2",
			"x-forwarded-for":  "203.0.113.3",
		})
		assert.Equal(t, "203.0.113.1", ip)
	})

	t.Run("x-real-ip beats forwarded-for", func(t *testing.T) {
		ip := resolve(map[string]string{
			"x-real-ip":       "203.0.113.2",
			"x-forwarded-for": "203.0.113.3, 203.0.113.4",
		})
		assert.Equal(t, "203.0.113.2", ip)
	})

	t.Run("first forwarded-for entry", func(t *testing.T) {
		ip := resolve(map[string]string{"x-forwarded-for": "203.0.113.3, 203.0.113.4"})
		assert.Equal(t, "203.0.113.3", ip)
	})

	t.Run("falls back to the peer address", func(t *testing.T) {
		assert.Equal(t, "198.51.100.7", resolve(nil))
	})

	t.Run("skips headers that are not valid addresses", func(t *testing.T) {
		ip := resolve(map[string]string{
			"x-real-ip":       "not-an-ip",
			"x-forwarded-for": "203.0.113.3, 203.0.113.4",
		})
		assert.Equal(t, "203.0.113.3", ip)
	})

	t.Run("all headers garbage falls back to the peer", func(t *testing.T) {
		ip := resolve(map[string]string{
			"cf-connecting-ip": "spoofed",
			"x-real-ip":        "also spoofed",
			"x-forwarded-for":  "unknown",
		})
		assert.Equal(t, "198.51.100.7", ip)
	})
}
