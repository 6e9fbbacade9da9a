// Package usermap contains a minimal client for the university usermap API,
// used to resolve a verified person's entitlement roles with their own
// OAuth access token.
package usermap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// Person is the subset of the usermap profile the bot needs.
type Person struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// Client queries the usermap people endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// GetUserInfo fetches the profile for username using the bearer accessToken.
// Returns (nil, nil) when the person does not exist (HTTP 404).
func (c *Client) GetUserInfo(ctx context.Context, accessToken, username string) (*Person, error) {
	if username == "" {
		return nil, fmt.Errorf("username empty")
	}
	u := c.BaseURL + "/people/" + url.PathEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usermap lookup failed: %s", resp.Status)
	}
	var p Person
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
