package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/cinnamon-msft/tangled/internal/auth"
	"github.com/cinnamon-msft/tangled/internal/crafts"
	"github.com/cinnamon-msft/tangled/internal/health"
	"github.com/cinnamon-msft/tangled/internal/metrics"
	"github.com/cinnamon-msft/tangled/internal/projectorder"
	"github.com/cinnamon-msft/tangled/internal/requestid"
	"github.com/cinnamon-msft/tangled/internal/syncstate"
)

// ServerConfig holds configuration for the local API server.
type ServerConfig struct {
	ListenAddr  string
	APIKey      string
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// Deps are the services the routes call into. Device and Proxy are nil
// unless their sign-in strategy is enabled.
type Deps struct {
	Crafts   *crafts.Service
	Order    *projectorder.Service
	Auth     *auth.Manager
	Device   *auth.DeviceFlow
	Proxy    *auth.ProxyExchanger
	Strategy auth.Strategy
	Tracker  *syncstate.Tracker
	Checker  *health.Checker
	Metrics  *metrics.Metrics
}

// Server is the local crafts API.
type Server struct {
	app    *fiber.App
	deps   Deps
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures the API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:    app,
		deps:   deps,
		logger: logger.With().Str("component", "api_server").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg)
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Request-ID",
			AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(newRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(newAPIKeyMiddleware(cfg.APIKey, s.logger))
	s.app.Use(newAuditMiddleware(s.deps.Metrics, s.logger))
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", health.Liveness)
	if s.deps.Checker != nil {
		s.app.Get("/readyz", s.deps.Checker.Readiness())
	} else {
		s.app.Get("/readyz", health.Liveness)
	}
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	api := s.app.Group("/api")

	// Order routes sit before /projects/:id so "order" is not parsed as an id.
	if s.deps.Order != nil {
		api.Get("/projects/order/:section", s.getOrder)
		api.Put("/projects/order/:section", s.setOrder)
	}
	api.Post("/projects/:id/materials", s.assignMaterial)
	api.Delete("/projects/:id/materials/:linkId", s.removeMaterial)
	api.Get("/materials/:id/projects", s.materialUsage)

	registerCollection(api.Group("/projects"), s.deps.Crafts.Projects, s.listProjects)
	registerCollection(api.Group("/materials"), s.deps.Crafts.Materials, nil)
	registerCollection(api.Group("/projectideas"), s.deps.Crafts.Ideas, nil)

	api.Get("/sync/status", s.syncStatus)

	authGroup := api.Group("/auth")
	authGroup.Get("/session", s.session)
	authGroup.Delete("/session", s.logout)
	authGroup.Post("/token", s.loginWithToken)
	authGroup.Post("/device", s.startDevice)
	authGroup.Get("/device", s.deviceStatus)
	authGroup.Delete("/device", s.cancelDevice)
	authGroup.Get("/authorize", s.authorize)
	authGroup.Post("/callback", s.callback)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:5174"
	}

	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
			detail = "An internal error occurred"
		}

		errType := "internal_error"
		if code == fiber.StatusNotFound {
			errType = "not_found"
		} else if code == fiber.StatusMethodNotAllowed {
			errType = "method_not_allowed"
		}
		return problemResponse(c, code, errType, http.StatusText(code), detail)
	}
}
