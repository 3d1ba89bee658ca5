// Package ollamaclient is a minimal client for the local LM runtime,
// covering only the calls the driver needs at startup: checking the
// runtime is alive and listing what models it already has pulled.
package ollamaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// DefaultBaseURL is where the local LM runtime is assumed to listen.
const DefaultBaseURL = "http://127.0.0.1:11434"

// Client talks to one local LM runtime instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client against baseURL (DefaultBaseURL if empty).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
			Timeout: 10 * time.Second,
		},
	}
}

// Version reports the runtime's self-reported version string via
// GET /api/version, usable as a liveness check. cmd/lanshare does not call
// it; only Tags is used there.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/version", &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// Tags lists the models the runtime currently has available, via
// GET /api/tags, for --share-all to build an allow-list from.
func (c *Client) Tags(ctx context.Context) ([]string, error) {
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("ollamaclient: building request for %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollamaclient: calling %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollamaclient: %s returned HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollamaclient: decoding response from %s: %w", path, err)
	}
	return nil
}
