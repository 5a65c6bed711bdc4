// Package version implements the upstream version source polled by the
// version poller.
package version

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second

	// maxBodySize caps the response read; version strings are tiny.
	maxBodySize = 4 * 1024
)

// HTTPSource fetches the latest released version string from an HTTP
// endpoint that returns it as a plain text body.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates an HTTPSource for the given URL.
func NewHTTPSource(url string) (*HTTPSource, error) {
	if url == "" {
		return nil, fmt.Errorf("version source requires a url")
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// FetchLatest fetches and returns the current version string.
func (s *HTTPSource) FetchLatest(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build version request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("version fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("version endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read version response: %w", err)
	}

	v := strings.TrimSpace(string(body))
	if v == "" {
		return "", fmt.Errorf("version endpoint returned an empty body")
	}
	return v, nil
}
