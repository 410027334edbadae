package server

import (
	"crypto/subtle"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cinnamon-msft/tangled/internal/metrics"
	"github.com/cinnamon-msft/tangled/internal/requestid"
)

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// newAPIKeyMiddleware guards the API when a key is configured. The key is
// accepted as "Authorization: Bearer <key>" or "X-API-Key: <key>".
func newAPIKeyMiddleware(apiKey string, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" || isProbe(c.Path()) || c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		presented := c.Get("X-API-Key")
		if presented == "" {
			authHeader := c.Get(fiber.HeaderAuthorization)
			if authHeader == "" {
				return problemResponse(c, fiber.StatusUnauthorized,
					"missing_api_key", "Unauthorized",
					"An API key is required")
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_auth_scheme", "Unauthorized",
					"Authorization header must use Bearer scheme")
			}
			presented = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
			logger.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")
		}
		return c.Next()
	}
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// allow reports whether ip may make a request now. Idle clients are swept
// every few minutes while handling requests.
func (rl *rateLimiter) allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > 5*time.Minute {
		for k, v := range rl.clients {
			if now.Sub(v.lastSeen) > 10*time.Minute {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// newRateLimitMiddleware returns a per-client token-bucket rate limiter.
func newRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	rl := &rateLimiter{
		clients:   make(map[string]*clientLimiter),
		limit:     rate.Limit(cfg.RPS),
		burst:     cfg.Burst,
		lastSweep: time.Now(),
	}

	return func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		if !rl.allow(c.IP(), time.Now()) {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}

// newAuditMiddleware logs every API request and counts it by route.
func newAuditMiddleware(m *metrics.Metrics, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		if m != nil {
			m.RecordHTTPRequest(c.Method(), c.Route().Path, strconv.Itoa(status))
		}

		if !isProbe(path) {
			logger.Info().
				Str("method", c.Method()).
				Str("path", path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("request_id", requestid.FromFiber(c)).
				Msg("api request")
		}
		return err
	}
}
