package server

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// NewUpstreamClient returns the HTTP client used to reach the analytics agent.
// With auth it carries Application Default Credentials; without, it is a
// plain client for local upstreams.
func NewUpstreamClient(ctx context.Context, auth bool) (*http.Client, error) {
	opts := []option.ClientOption{option.WithScopes(cloudPlatformScope)}
	if !auth {
		opts = []option.ClientOption{option.WithoutAuthentication()}
	}
	client, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("build upstream client: %w", err)
	}
	return client, nil
}
