// Package api implements the matchmaker's admin REST API: public health
// endpoints, server record management behind an admin token, and the
// Prometheus scrape endpoint.
package api

import (
	"crypto/subtle"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func abortJSON(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// RequireAdminToken rejects requests whose bearer token does not match
// token. An empty token disables the check.
func RequireAdminToken(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(token)
	return func(c *gin.Context) {
		got := extractBearerToken(c.GetHeader("Authorization"))
		switch {
		case got == "":
			abortJSON(c, http.StatusUnauthorized, "missing or invalid authorization header")
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			abortJSON(c, http.StatusUnauthorized, "invalid token")
		default:
			c.Next()
		}
	}
}

// parseWhitelist turns addresses and CIDR ranges into prefixes. A bare
// address becomes a single-host prefix; unparseable entries are logged
// and skipped.
func parseWhitelist(entries []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		if addr, err := netip.ParseAddr(e); err == nil {
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(e)
		if err != nil {
			log.Warn().Str("entry", e).Msg("ignoring invalid whitelist entry")
			continue
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes
}

// IPWhitelist admits only clients inside one of the listed addresses or
// CIDR ranges. An empty list admits everyone.
func IPWhitelist(whitelist []string) gin.HandlerFunc {
	if len(whitelist) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	allowed := parseWhitelist(whitelist)
	return func(c *gin.Context) {
		if addr, err := netip.ParseAddr(c.ClientIP()); err == nil {
			addr = addr.Unmap()
			for _, p := range allowed {
				if p.Contains(addr) {
					c.Next()
					return
				}
			}
		}
		abortJSON(c, http.StatusForbidden, "access denied: IP not whitelisted")
	}
}

// RateLimiter keeps one token bucket per client key. Buckets refill at
// the configured rate and hold up to twice that many tokens.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewRateLimiter allows rps requests per second per client. rps <= 0
// disables limiting.
func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(rps),
		burst:   rps * 2,
		now:     time.Now,
	}
}

// Allow spends one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = rate.NewLimiter(rl.limit, rl.burst)
		rl.buckets[key] = b
	}
	now := rl.now()
	rl.mu.Unlock()

	return b.AllowN(now, 1)
}

// Middleware limits requests by client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			abortJSON(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func SecurityHeaders() gin.HandlerFunc {
	headers := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Server", "matchmaker"},
	}
	return func(c *gin.Context) {
		for _, h := range headers {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}

// RequestLogger writes one debug line per request after it completes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("api request")
	}
}

func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
