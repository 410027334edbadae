package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/pkg/tokenstore"
)

// DeviceState is where a device authorization stands.
type DeviceState string

const (
	DeviceIdle       DeviceState = "idle"
	DevicePending    DeviceState = "pending"
	DeviceAuthorized DeviceState = "authorized"
	DeviceExpired    DeviceState = "expired"
	DeviceFailed     DeviceState = "failed"
	DeviceCancelled  DeviceState = "cancelled"
)

// Terminal reports whether polling has stopped.
func (s DeviceState) Terminal() bool {
	return s != DevicePending && s != DeviceIdle
}

// DeviceStatus is what a UI needs to render the flow.
type DeviceStatus struct {
	State                   DeviceState `json:"state"`
	UserCode                string      `json:"userCode,omitempty"`
	VerificationURI         string      `json:"verificationUri,omitempty"`
	VerificationURIComplete string      `json:"verificationUriComplete,omitempty"`
	ExpiresAt               *time.Time  `json:"expiresAt,omitempty"`
	Login                   string      `json:"login,omitempty"`
	Error                   string      `json:"error,omitempty"`
}

// LoginCompleter turns an access token into a session.
type LoginCompleter interface {
	CompleteLogin(ctx context.Context, token string) (*tokenstore.Session, error)
}

// DeviceFlowConfig configures the OAuth device authorization grant.
type DeviceFlowConfig struct {
	ClientID      string
	Scope         string
	DeviceCodeURL string
	TokenURL      string
	HTTPClient    *http.Client
}

// DeviceFlow runs at most one device authorization at a time. Polling happens
// on its own goroutine and stops on success, expiry, error or Cancel.
type DeviceFlow struct {
	oauth      oauth2.Config
	httpClient *http.Client
	logins     LoginCompleter
	logger     zerolog.Logger

	// startMu serializes Start and Cancel so exactly one poller is installed.
	startMu sync.Mutex

	mu     sync.Mutex
	status DeviceStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDeviceFlow creates an idle flow.
func NewDeviceFlow(cfg DeviceFlowConfig, logins LoginCompleter, logger zerolog.Logger) *DeviceFlow {
	if cfg.DeviceCodeURL == "" {
		cfg.DeviceCodeURL = "https://github.com/login/device/code"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://github.com/login/oauth/access_token"
	}
	if cfg.Scope == "" {
		cfg.Scope = "repo"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &DeviceFlow{
		oauth: oauth2.Config{
			ClientID: cfg.ClientID,
			Scopes:   []string{cfg.Scope},
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: cfg.DeviceCodeURL,
				TokenURL:      cfg.TokenURL,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		logins:     logins,
		logger:     logger.With().Str("component", "device-flow").Logger(),
		status:     DeviceStatus{State: DeviceIdle},
	}
}

// Start requests a device code and begins polling. A flow already in progress
// is cancelled first. Overlapping calls run one after the other; the last one wins.
func (d *DeviceFlow) Start(ctx context.Context) (DeviceStatus, error) {
	if d.oauth.ClientID == "" {
		return DeviceStatus{}, fmt.Errorf("github client id is not configured: %w", perrors.ErrInvalidInput)
	}

	d.startMu.Lock()
	defer d.startMu.Unlock()
	d.stop()

	da, err := d.oauth.DeviceAuth(d.withClient(ctx))
	if err != nil {
		return DeviceStatus{}, &perrors.APIError{Service: "github-oauth", Message: "requesting device code", Err: err}
	}

	pollCtx, cancel := context.WithCancel(d.withClient(context.Background()))
	done := make(chan struct{})

	status := DeviceStatus{
		State:                   DevicePending,
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
	}
	if !da.Expiry.IsZero() {
		exp := da.Expiry.UTC()
		status.ExpiresAt = &exp
	}

	d.mu.Lock()
	d.status = status
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	d.logger.Info().
		Str("verification_uri", da.VerificationURI).
		Int64("interval", da.Interval).
		Msg("device authorization started")

	go d.poll(pollCtx, cancel, da, done)
	return status, nil
}

// Status returns the current state.
func (d *DeviceFlow) Status() DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Cancel stops polling and waits for the poller to exit. It is a no-op when
// nothing is running. A Start in progress finishes first and is then cancelled.
func (d *DeviceFlow) Cancel() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	d.stop()
}

func (d *DeviceFlow) stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current flow reaches a terminal state or ctx ends.
func (d *DeviceFlow) Wait(ctx context.Context) (DeviceStatus, error) {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	if done == nil {
		return d.Status(), nil
	}
	select {
	case <-done:
		return d.Status(), nil
	case <-ctx.Done():
		return d.Status(), ctx.Err()
	}
}

func (d *DeviceFlow) poll(ctx context.Context, cancel context.CancelFunc, da *oauth2.DeviceAuthResponse, done chan struct{}) {
	defer close(done)
	defer cancel()

	tok, err := d.oauth.DeviceAccessToken(ctx, da)
	if err == nil {
		var sess *tokenstore.Session
		sess, err = d.logins.CompleteLogin(ctx, tok.AccessToken)
		if err == nil {
			d.finish(done, func(s *DeviceStatus) {
				s.State = DeviceAuthorized
				s.Login = sess.User.Login
			})
			d.logger.Info().Str("login", sess.User.Login).Msg("device authorization completed")
			return
		}
	}

	state, msg := classify(err)
	d.finish(done, func(s *DeviceStatus) {
		s.State = state
		s.Error = msg
	})
	d.logger.Info().Str("state", string(state)).Str("error", msg).Msg("device authorization ended")
}

// finish applies the terminal transition only if done still belongs to the
// current flow, so a superseded poller cannot overwrite a newer one.
func (d *DeviceFlow) finish(done chan struct{}, apply func(*DeviceStatus)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != done {
		return
	}
	apply(&d.status)
	d.cancel = nil
}

func classify(err error) (DeviceState, string) {
	var rErr *oauth2.RetrieveError
	switch {
	case errors.Is(err, context.Canceled):
		return DeviceCancelled, ""
	case errors.Is(err, context.DeadlineExceeded):
		return DeviceExpired, "device code expired, please try again"
	case errors.As(err, &rErr):
		if rErr.ErrorCode == "expired_token" {
			return DeviceExpired, "device code expired, please try again"
		}
		if rErr.ErrorDescription != "" {
			return DeviceFailed, rErr.ErrorDescription
		}
		if rErr.ErrorCode != "" {
			return DeviceFailed, rErr.ErrorCode
		}
	}
	return DeviceFailed, err.Error()
}

func (d *DeviceFlow) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
}
