// Package github reads and commits whole JSON documents through the GitHub
// contents API, guarding every write with the blob SHA precondition.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	perrors "github.com/cinnamon-msft/tangled/internal/errors"
	"github.com/cinnamon-msft/tangled/pkg/tokenstore"
)

const serviceName = "github"

// TokenSource yields the bearer token of the current session.
// It returns perrors.ErrUnauthenticated when nobody is signed in.
type TokenSource interface {
	Token() (string, error)
}

// Config locates the data repository.
type Config struct {
	BaseURL string // API root, e.g. https://api.github.com/
	Owner   string
	Repo    string
	Branch  string
	Timeout time.Duration
}

// RemoteDocument is a file read from the repository.
type RemoteDocument struct {
	Path    string
	Content []byte
	SHA     string
}

// CommitResult describes a successful write.
type CommitResult struct {
	Path      string
	SHA       string // blob SHA of the new content
	CommitSHA string
	Created   bool
}

// Client wraps the GitHub contents API for one repository and branch.
type Client struct {
	cfg       Config
	baseURL   *url.URL
	tokens    TokenSource
	transport http.RoundTripper
	logger    zerolog.Logger

	mu             sync.RWMutex
	onAuthRejected func(ctx context.Context, token string)
}

// NewClient creates a client. tokens may be nil for a client that only calls FetchUser.
func NewClient(cfg Config, tokens TokenSource, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com/"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("repository owner and name are required: %w", perrors.ErrInvalidInput)
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing github base url: %w", err)
	}

	return &Client{
		cfg:       cfg,
		baseURL:   base,
		tokens:    tokens,
		transport: http.DefaultTransport,
		logger:    logger.With().Str("component", "github").Logger(),
	}, nil
}

// OnAuthRejected registers the hook that runs whenever the remote answers 401
// to a session-authenticated call, with the token that was refused. The auth
// manager uses it to tear that session down.
func (c *Client) OnAuthRejected(fn func(ctx context.Context, token string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAuthRejected = fn
}

// FetchDocument reads path on the configured branch.
func (c *Client) FetchDocument(ctx context.Context, path string) (*RemoteDocument, error) {
	client, token, err := c.sessionClient()
	if err != nil {
		return nil, err
	}

	file, err := c.getFile(ctx, client, path)
	if err != nil {
		return nil, c.mapError(ctx, "fetching "+path, token, err)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, &perrors.APIError{Service: serviceName, Message: "decoding " + path, Err: err}
	}

	c.logger.Debug().Str("path", path).Str("sha", file.GetSHA()).Msg("fetched document")
	return &RemoteDocument{Path: path, Content: []byte(content), SHA: file.GetSHA()}, nil
}

// WriteDocument commits content to path. The current SHA is always looked up
// right before the write; knownSHA is only compared for logging.
func (c *Client) WriteDocument(ctx context.Context, path string, content []byte, message, knownSHA string) (*CommitResult, error) {
	client, token, err := c.sessionClient()
	if err != nil {
		return nil, err
	}

	var currentSHA string
	file, err := c.getFile(ctx, client, path)
	switch {
	case err == nil:
		currentSHA = file.GetSHA()
	case statusOf(err) == http.StatusNotFound:
		c.logger.Debug().Str("path", path).Msg("document does not exist yet, creating")
	default:
		return nil, c.mapError(ctx, "looking up sha of "+path, token, err)
	}

	if knownSHA != "" && currentSHA != "" && knownSHA != currentSHA {
		c.logger.Info().
			Str("path", path).
			Str("known_sha", knownSHA).
			Str("current_sha", currentSHA).
			Msg("document changed remotely since it was read, overwriting")
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: content,
		Branch:  gh.String(c.cfg.Branch),
	}

	var resp *gh.RepositoryContentResponse
	if currentSHA == "" {
		resp, _, err = client.Repositories.CreateFile(ctx, c.cfg.Owner, c.cfg.Repo, path, opts)
	} else {
		opts.SHA = gh.String(currentSHA)
		resp, _, err = client.Repositories.UpdateFile(ctx, c.cfg.Owner, c.cfg.Repo, path, opts)
	}
	if err != nil {
		return nil, c.mapError(ctx, "committing "+path, token, err)
	}

	result := &CommitResult{Path: path, Created: currentSHA == ""}
	if resp != nil {
		result.SHA = resp.GetContent().GetSHA()
		result.CommitSHA = resp.Commit.GetSHA()
	}

	c.logger.Info().
		Str("path", path).
		Str("commit", result.CommitSHA).
		Bool("created", result.Created).
		Msg("committed document")
	return result, nil
}

// FetchUser resolves the identity behind token. It does not fire the auth-rejected
// hook, since token is not yet a session.
func (c *Client) FetchUser(ctx context.Context, token string) (*tokenstore.User, error) {
	if token == "" {
		return nil, perrors.ErrUnauthenticated
	}

	user, _, err := c.newGitHubClient(token).Users.Get(ctx, "")
	if err != nil {
		if statusOf(err) == http.StatusUnauthorized {
			return nil, fmt.Errorf("fetching user: %w", perrors.ErrAuthRejected)
		}
		return nil, wrapTransport("fetching user", err)
	}

	return &tokenstore.User{Login: user.GetLogin(), AvatarURL: user.GetAvatarURL()}, nil
}

// Ping checks that the repository is reachable, authenticated when a session exists.
func (c *Client) Ping(ctx context.Context) error {
	token := ""
	if c.tokens != nil {
		token, _ = c.tokens.Token()
	}
	_, _, err := c.newGitHubClient(token).Repositories.Get(ctx, c.cfg.Owner, c.cfg.Repo)
	if err != nil {
		return wrapTransport("getting repository", err)
	}
	return nil
}

func (c *Client) getFile(ctx context.Context, client *gh.Client, path string) (*gh.RepositoryContent, error) {
	file, dir, _, err := client.Repositories.GetContents(ctx, c.cfg.Owner, c.cfg.Repo, path,
		&gh.RepositoryContentGetOptions{Ref: c.cfg.Branch})
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, &perrors.APIError{
			Service: serviceName,
			Message: fmt.Sprintf("%s is a directory with %d entries", path, len(dir)),
		}
	}
	return file, nil
}

// sessionClient fails fast with ErrUnauthenticated before any network call.
// The token is returned so a later 401 can name the token that was refused.
func (c *Client) sessionClient() (*gh.Client, string, error) {
	if c.tokens == nil {
		return nil, "", perrors.ErrUnauthenticated
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, "", err
	}
	if token == "" {
		return nil, "", perrors.ErrUnauthenticated
	}
	return c.newGitHubClient(token), token, nil
}

func (c *Client) newGitHubClient(token string) *gh.Client {
	var rt http.RoundTripper = c.transport
	if token != "" {
		rt = &tokenTransport{token: token, base: c.transport}
	}
	client := gh.NewClient(&http.Client{Transport: rt, Timeout: c.cfg.Timeout})
	client.BaseURL = c.baseURL
	return client
}

// mapError translates go-github failures into the shared taxonomy. token is
// the session token the failed call carried.
func (c *Client) mapError(ctx context.Context, op, token string, err error) error {
	var apiErr *perrors.APIError
	if errors.As(err, &apiErr) {
		return err
	}

	switch status := statusOf(err); {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, perrors.ErrNotFound)
	case status == http.StatusUnauthorized:
		c.logger.Warn().Str("op", op).Msg("token rejected by github")
		c.fireAuthRejected(ctx, token)
		return fmt.Errorf("%s: %w", op, perrors.ErrAuthRejected)
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity && mentionsSHA(err):
		return fmt.Errorf("%s: %w", op, perrors.ErrConflict)
	}
	return wrapTransport(op, err)
}

func (c *Client) fireAuthRejected(ctx context.Context, token string) {
	c.mu.RLock()
	fn := c.onAuthRejected
	c.mu.RUnlock()
	if fn != nil {
		fn(ctx, token)
	}
}

func statusOf(err error) int {
	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode
	}
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) && rateErr.Response != nil {
		return rateErr.Response.StatusCode
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.Response != nil {
		return abuseErr.Response.StatusCode
	}
	return 0
}

func mentionsSHA(err error) bool {
	var errResp *gh.ErrorResponse
	if !errors.As(err, &errResp) {
		return false
	}
	return strings.Contains(strings.ToLower(errResp.Message), "sha")
}

func wrapTransport(op string, err error) error {
	return &perrors.APIError{Service: serviceName, StatusCode: statusOf(err), Message: op, Err: err}
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req2)
}
