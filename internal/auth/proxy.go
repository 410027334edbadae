package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/pkg/tokenstore"
)

// ProxyExchanger completes the redirect sign-in: the browser returns with a
// code, the proxy trades it for a token using the client secret.
type ProxyExchanger struct {
	proxyURL   string
	httpClient *http.Client
	logins     LoginCompleter
	logger     zerolog.Logger
}

type exchangeRequest struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

type exchangeResponse struct {
	AccessToken      string `json:"access_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewProxyExchanger creates an exchanger that posts to proxyURL.
func NewProxyExchanger(proxyURL string, timeout time.Duration, logins LoginCompleter, logger zerolog.Logger) *ProxyExchanger {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ProxyExchanger{
		proxyURL:   strings.TrimSuffix(proxyURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logins:     logins,
		logger:     logger.With().Str("component", "oauth-proxy-client").Logger(),
	}
}

// AuthorizeURL is where the browser starts the redirect flow.
func (p *ProxyExchanger) AuthorizeURL() string {
	return p.proxyURL + "/authorize"
}

// Exchange trades code for a token and signs in with it.
func (p *ProxyExchanger) Exchange(ctx context.Context, code, state string) (*tokenstore.Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("authorization code is empty: %w", perrors.ErrInvalidInput)
	}
	if p.proxyURL == "" {
		return nil, fmt.Errorf("oauth proxy url is not configured: %w", perrors.ErrInvalidInput)
	}

	body, err := json.Marshal(exchangeRequest{Code: code, State: state})
	if err != nil {
		return nil, fmt.Errorf("encoding exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.proxyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &perrors.APIError{Service: "oauth-proxy", Message: "exchanging code", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out exchangeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, perrors.NewAPIError("oauth-proxy", resp.StatusCode, "unreadable exchange response")
	}

	if out.Error != "" || out.AccessToken == "" {
		msg := out.ErrorDescription
		if msg == "" {
			msg = out.Error
		}
		if msg == "" {
			msg = "no access token returned"
		}
		p.logger.Warn().Int("status", resp.StatusCode).Str("error", out.Error).Msg("code exchange refused")
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("exchanging code: %s: %w", msg, perrors.ErrInvalidInput)
		}
		return nil, perrors.NewAPIError("oauth-proxy", resp.StatusCode, msg)
	}

	return p.logins.CompleteLogin(ctx, out.AccessToken)
}
