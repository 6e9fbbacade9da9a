// Package auth implements the OAuth verification flow: building the provider
// authorization link, exchanging the callback code for an access token,
// resolving the token owner's username, and the at-most-once role-grant
// protocol backed by the verification store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// OAuthConfig carries the provider endpoints and client credentials.
type OAuthConfig struct {
	ClientID      string
	ClientSecret  string
	AuthorizeURL  string
	TokenURL      string
	CheckTokenURL string
}

// OAuthClient talks to the OAuth provider. Transient provider failures are
// propagated, not retried; the end user simply restarts the flow.
type OAuthClient struct {
	Config     OAuthConfig
	HTTPClient *http.Client
}

func (c *OAuthClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// AuthLink builds the provider authorization URL for the code grant.
// A missing client id is a configuration error, surfaced immediately.
func (c *OAuthClient) AuthLink(redirectURI string) (string, error) {
	if c.Config.ClientID == "" {
		return "", errors.New("oauth client id not configured")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", c.Config.ClientID)
	v.Set("redirect_uri", redirectURI)
	return c.Config.AuthorizeURL + "?" + v.Encode(), nil
}

// ExchangeCode swaps an authorization code for a bearer access token. The
// provider expects HTTP Basic client authentication on the token endpoint.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	if c.Config.ClientID == "" || c.Config.ClientSecret == "" {
		return "", errors.New("oauth client credentials not configured")
	}
	conf := &oauth2.Config{
		ClientID:     c.Config.ClientID,
		ClientSecret: c.Config.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.Config.AuthorizeURL,
			TokenURL:  c.Config.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http())
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}
	return tok.AccessToken, nil
}

// Username resolves the owner of accessToken via the provider's
// token-introspection endpoint.
func (c *OAuthClient) Username(ctx context.Context, accessToken string) (string, error) {
	u := c.Config.CheckTokenURL + "?token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("check_token failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		UserName string `json:"user_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.UserName == "" {
		return "", errors.New("check_token response missing user_name")
	}
	return body.UserName, nil
}
