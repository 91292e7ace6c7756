// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package brain

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/pdiddy/bot-engine/internal/httputil"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// Source fetches raw knowledge-package bytes.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	// Name identifies the source in cache keys and logs.
	Name() string
}

// NewSource picks a file or HTTP source from location.
func NewSource(location string, cfg types.HTTPConfig) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return &HTTPSource{URL: location, Config: cfg}
	}
	return FileSource(location)
}

// FileSource reads a package from the local filesystem.
type FileSource string

// Fetch implements Source.
func (f FileSource) Fetch(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("reading knowledge package %s: %w", string(f), err)
	}
	return data, nil
}

// Name implements Source.
func (f FileSource) Name() string { return string(f) }

// HTTPSource downloads a package over HTTP.
type HTTPSource struct {
	URL    string
	Config types.HTTPConfig
	Client *http.Client
}

// Fetch implements Source.
func (h *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: h.Config.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building package request: %w", err)
	}
	if h.Config.UserAgent != "" {
		req.Header.Set("User-Agent", h.Config.UserAgent)
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, h.Config.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("fetching knowledge package %s: %w", h.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching knowledge package %s: status %d", h.URL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge package body: %w", err)
	}
	return data, nil
}

// Name implements Source.
func (h *HTTPSource) Name() string { return h.URL }
