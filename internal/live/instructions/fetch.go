package instructions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher loads instruction text from the relay by page identifier.
type Fetcher struct {
	baseURL string
	client  *http.Client
}

func NewFetcher(baseURL string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (f *Fetcher) Fetch(ctx context.Context, page string) (string, error) {
	endpoint := f.baseURL + "/api/system-instructions/" + url.PathEscape(page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build instruction request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch instructions for %s: %w", page, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read instructions for %s: %w", page, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch instructions for %s: status %d", page, resp.StatusCode)
	}
	return string(body), nil
}
