// Package requestid propagates a per-request id through context and fiber locals.
package requestid

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Header carries the id in both directions.
const Header = "X-Request-ID"

const localsKey = "requestid"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Middleware accepts an incoming X-Request-ID (or mints one), echoes it on the
// response and stores it on the user context for downstream calls.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set(Header, id)
		c.Locals(localsKey, id)
		c.SetUserContext(WithRequestID(c.UserContext(), id))
		return c.Next()
	}
}

// FromFiber returns the id assigned by Middleware, or "".
func FromFiber(c *fiber.Ctx) string {
	id, _ := c.Locals(localsKey).(string)
	return id
}
