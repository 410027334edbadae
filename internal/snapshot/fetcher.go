// Package snapshot reads the static copy of each collection document that ships
// with the site. It needs no credentials.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/cinnamon-msft/tangled/internal/errors"
)

const serviceName = "snapshot"

// Fetcher downloads <base>/data/<collection>.json.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewFetcher creates a fetcher rooted at baseURL.
func NewFetcher(baseURL string, timeout time.Duration, logger zerolog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "snapshot").Logger(),
	}
}

// URL returns the address of a collection's static document.
func (f *Fetcher) URL(collection string) string {
	return fmt.Sprintf("%s/data/%s.json", f.baseURL, collection)
}

// Fetch returns the raw static document. A missing file is ErrNotFound.
func (f *Fetcher) Fetch(ctx context.Context, collection string) ([]byte, error) {
	url := f.URL(collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &perrors.APIError{Service: serviceName, Message: "requesting " + url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("static %s document: %w", collection, perrors.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, perrors.NewAPIError(serviceName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &perrors.APIError{Service: serviceName, StatusCode: resp.StatusCode, Message: "reading body", Err: err}
	}

	f.logger.Debug().Str("collection", collection).Int("bytes", len(body)).Msg("fetched static snapshot")
	return body, nil
}
