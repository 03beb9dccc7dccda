// Package geoipclient fetches CIDR allocation lists from a geo-IP or RIR
// endpoint so the geofence allow-list can be refreshed instead of shipping a
// stale static list.
package geoipclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the CIDR allocation endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. When skip is true, Fetch returns nothing and callers
// fall back to the configured static list.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fetch returns the current CIDR list. The endpoint responds with
// {"cidrs": ["a.b.c.d/nn", ...]}.
func (c *Client) Fetch(ctx context.Context) ([]string, error) {
	if c.Skip || c.BaseURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		CIDRs []string `json:"cidrs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.CIDRs, nil
}
