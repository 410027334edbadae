// Package auth owns the signed-in session and the ways of obtaining one.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/internal/metrics"
	"github.com/cinnamon-msft/tangled/pkg/tokenstore"
)

// Strategy selects how users sign in.
type Strategy string

const (
	StrategyDevice Strategy = "device"
	StrategyToken  Strategy = "token"
	StrategyProxy  Strategy = "proxy"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyDevice, "":
		return StrategyDevice, nil
	case StrategyToken:
		return StrategyToken, nil
	case StrategyProxy:
		return StrategyProxy, nil
	}
	return "", fmt.Errorf("unknown auth strategy %q: %w", s, perrors.ErrInvalidInput)
}

// IdentityFetcher resolves the user behind a token.
type IdentityFetcher interface {
	FetchUser(ctx context.Context, token string) (*tokenstore.User, error)
}

// Manager holds the process-scoped session. It is created at startup,
// initialised from the durable store and torn down on logout or when the
// remote rejects the token.
type Manager struct {
	store    tokenstore.Store
	identity IdentityFetcher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	// writeMu orders store writes with the in-memory swap, so a stale
	// rejection cannot clear a session saved after it.
	writeMu sync.Mutex
	mu      sync.RWMutex
	session *tokenstore.Session
}

// NewManager creates a manager with no session. Call Init to restore one.
func NewManager(store tokenstore.Store, identity IdentityFetcher, m *metrics.Metrics, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		identity: identity,
		metrics:  m,
		logger:   logger.With().Str("component", "auth").Logger(),
		now:      time.Now,
	}
}

// Init restores a stored session. A missing or incomplete session leaves the
// manager signed out.
func (m *Manager) Init(ctx context.Context) error {
	sess, err := m.store.Load(ctx)
	if errors.Is(err, tokenstore.ErrNoSession) {
		m.setSession(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if !sess.Valid() {
		m.logger.Warn().Msg("stored session is incomplete, discarding")
		m.setSession(nil)
		return m.store.Clear(ctx)
	}

	m.setSession(sess)
	m.logger.Info().Str("login", sess.User.Login).Msg("restored session")
	return nil
}

// Session returns a copy of the current session, or nil.
func (m *Manager) Session() *tokenstore.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	return &cp
}

// IsAuthenticated is true when both a token and a user are present.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Valid()
}

// Token returns the bearer token or ErrUnauthenticated.
func (m *Manager) Token() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.session.Valid() {
		return "", perrors.ErrUnauthenticated
	}
	return m.session.Token, nil
}

// CompleteLogin checks token against GET /user and persists the session.
func (m *Manager) CompleteLogin(ctx context.Context, token string) (*tokenstore.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("token is empty: %w", perrors.ErrInvalidInput)
	}

	user, err := m.identity.FetchUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	sess := &tokenstore.Session{Token: token, User: *user, CreatedAt: m.now().UTC()}
	m.writeMu.Lock()
	err = m.store.Save(ctx, sess)
	if err == nil {
		m.setSession(sess)
	}
	m.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	m.logger.Info().Str("login", user.Login).Msg("signed in")
	return m.Session(), nil
}

// Logout drops the session from memory and the durable store.
func (m *Manager) Logout(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.clear(ctx)
}

func (m *Manager) clear(ctx context.Context) error {
	m.setSession(nil)
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	m.logger.Info().Msg("signed out")
	return nil
}

// HandleAuthRejected tears the session down after the remote refused token.
// A session signed in with a different token is left alone; an empty token
// clears whatever is current. Nothing retries automatically.
func (m *Manager) HandleAuthRejected(ctx context.Context, token string) {
	if m.metrics != nil {
		m.metrics.RecordAuthRejection()
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	current := m.session
	m.mu.RUnlock()
	if current == nil {
		return
	}
	if token != "" && current.Token != token {
		m.logger.Info().Msg("rejected token is no longer the session token, keeping session")
		return
	}

	m.logger.Warn().Msg("token rejected, clearing session")
	if err := m.clear(ctx); err != nil {
		m.logger.Error().Err(err).Msg("failed to clear rejected session")
	}
}

func (m *Manager) setSession(sess *tokenstore.Session) {
	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SetSessionActive(sess.Valid())
	}
}
