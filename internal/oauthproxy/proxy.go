// Package oauthproxy holds the client secret for the redirect sign-in and
// trades authorization codes for access tokens on the browser's behalf.
package oauthproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/cinnamon-msft/tangled/internal/metrics"
	"github.com/cinnamon-msft/tangled/internal/requestid"
)

// Config configures the proxy.
type Config struct {
	ClientID      string
	ClientSecret  string
	AllowedOrigin string
	AuthorizeURL  string
	TokenURL      string
	RedirectURL   string
	Scope         string
	StateSecret   string
	StateTTL      time.Duration
	HTTPClient    *http.Client
}

type exchangeRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type exchangeResponse struct {
	AccessToken      string `json:"access_token,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Server is the proxy's Fiber application.
type Server struct {
	app        *fiber.App
	oauth      *oauth2.Config
	secret     []byte
	ttl        time.Duration
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// New builds the proxy. The state secret falls back to the client secret.
func New(cfg Config, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("client id and client secret are required")
	}
	secret := cfg.StateSecret
	if secret == "" {
		secret = cfg.ClientSecret
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	var scopes []string
	if cfg.Scope != "" {
		scopes = strings.Fields(strings.ReplaceAll(cfg.Scope, ",", " "))
	}

	s := &Server{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		secret:     []byte(secret),
		ttl:        cfg.StateTTL,
		httpClient: httpClient,
		metrics:    m,
		logger:     logger.With().Str("component", "oauth_proxy").Logger(),
		now:        time.Now,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.Middleware())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigin,
		AllowHeaders: "Content-Type",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}
	s.app.Get("/authorize", s.authorize)
	s.app.Post("/", s.exchange)
	s.app.All("/", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusMethodNotAllowed).SendString("Method not allowed")
	})

	return s, nil
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("oauth proxy starting")
	return s.app.Listen(addr)
}

// Shutdown stops the listener.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// IssueState signs a state value that expires after the TTL.
func (s *Server) IssueState() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	return signed, nil
}

// VerifyState checks the signature and expiry of a state issued by IssueState.
func (s *Server) VerifyState(state string) error {
	_, err := jwt.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("verifying state: %w", err)
	}
	return nil
}

func (s *Server) authorize(c *fiber.Ctx) error {
	state, err := s.IssueState()
	if err != nil {
		s.logger.Error().Err(err).Msg("issuing state")
		return c.Status(fiber.StatusInternalServerError).JSON(exchangeResponse{Error: "internal_error"})
	}
	return c.Redirect(s.oauth.AuthCodeURL(state), fiber.StatusFound)
}

func (s *Server) exchange(c *fiber.Ctx) error {
	var req exchangeRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.record("bad_request")
		return c.Status(fiber.StatusBadRequest).JSON(exchangeResponse{
			Error:            "invalid_request",
			ErrorDescription: "request body must be JSON",
		})
	}
	if req.Code == "" {
		s.record("bad_request")
		return c.Status(fiber.StatusBadRequest).JSON(exchangeResponse{
			Error:            "invalid_request",
			ErrorDescription: "Missing code parameter",
		})
	}
	if req.State != "" {
		if err := s.VerifyState(req.State); err != nil {
			s.logger.Warn().Err(err).Str("request_id", requestid.FromFiber(c)).Msg("rejected state")
			s.record("invalid_state")
			return c.Status(fiber.StatusBadRequest).JSON(exchangeResponse{
				Error:            "invalid_state",
				ErrorDescription: "state is invalid or expired",
			})
		}
	}

	ctx := context.WithValue(c.UserContext(), oauth2.HTTPClient, s.httpClient)
	tok, err := s.oauth.Exchange(ctx, req.Code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.ErrorCode != "" {
			s.record("refused")
			return c.Status(fiber.StatusBadRequest).JSON(exchangeResponse{
				Error:            rerr.ErrorCode,
				ErrorDescription: rerr.ErrorDescription,
			})
		}
		s.logger.Error().Err(err).Str("request_id", requestid.FromFiber(c)).Msg("code exchange failed")
		s.record("error")
		return c.Status(fiber.StatusBadGateway).JSON(exchangeResponse{
			Error:            "exchange_failed",
			ErrorDescription: "could not reach the token endpoint",
		})
	}

	s.record("ok")
	return c.JSON(exchangeResponse{AccessToken: tok.AccessToken})
}

func (s *Server) record(result string) {
	if s.metrics != nil {
		s.metrics.RecordExchange(result)
	}
}
