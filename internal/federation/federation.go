// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package federation forwards unmatched utterances to peer engines.
package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/pdiddy/bot-engine/internal/httputil"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// ErrNoPeer reports that no federated brain is configured.
var ErrNoPeer = errors.New("no federated brain configured")

// Client posts utterances to the first federated brain by name.
type Client struct {
	http    *http.Client
	cfg     types.HTTPConfig
	secrets map[string]string
}

// NewClient returns a client. API keys are looked up in secrets by each
// brain's apiKeySecret name.
func NewClient(client *http.Client, cfg types.HTTPConfig, secrets map[string]string) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{http: client, cfg: cfg, secrets: secrets}
}

// First returns the name and definition of the first brain in name order.
func First(brains map[string]types.FederatedBrain) (string, types.FederatedBrain, bool) {
	if len(brains) == 0 {
		return "", types.FederatedBrain{}, false
	}
	names := make([]string, 0, len(brains))
	for n := range brains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names[0], brains[names[0]], true
}

// Forward sends u to the first brain and returns its response.
func (c *Client) Forward(ctx context.Context, brains map[string]types.FederatedBrain, u types.Utterance) (*types.Response, error) {
	name, brain, ok := First(brains)
	if !ok {
		return nil, ErrNoPeer
	}
	body, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encoding utterance: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, brain.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building federation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if key := c.secrets[brain.APIKeySecret]; key != "" {
		req.Header.Set("x-api-key", key)
	}

	resp, err := httputil.DoWithRetry(ctx, c.http, req, c.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("forwarding to %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forwarding to %s: status %d", name, resp.StatusCode)
	}
	var out types.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", name, err)
	}
	return &out, nil
}
