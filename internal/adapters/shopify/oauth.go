package shopify

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/observalabs/mirador/internal/apperr"
)

// BuildAuthURL returns the provider authorization URL for the shop.
// The state token carries a cryptographic nonce plus the
// base64-encoded carry value (the tenant email), separated by ':'.
func (c *Client) BuildAuthURL(shopDomain, carry string) (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", err
	}
	state := hex.EncodeToString(nonceBytes) + ":" + base64.StdEncoding.EncodeToString([]byte(carry))

	q := url.Values{}
	q.Set("client_id", c.apiKey)
	q.Set("scope", strings.Join(c.scopes, ","))
	q.Set("redirect_uri", c.baseURL+"/callback")
	q.Set("state", state)

	return fmt.Sprintf("https://%s/admin/oauth/authorize?%s", shopDomain, q.Encode()), nil
}

// DecodeState splits a round-tripped state token into its nonce and
// carry value.
func DecodeState(state string) (nonce, carry string, err error) {
	parts := strings.SplitN(state, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", apperr.New(apperr.KindAuth, "malformed state token")
	}
	decoded, derr := base64.StdEncoding.DecodeString(parts[1])
	if derr != nil {
		return "", "", apperr.Wrap(apperr.KindAuth, "malformed carry value", derr)
	}
	return parts[0], string(decoded), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// ExchangeCodeForToken swaps the authorization code for a long-lived
// access token.
func (c *Client) ExchangeCodeForToken(ctx context.Context, shopDomain, code string) (token, scopes string, err error) {
	form := url.Values{}
	form.Set("client_id", c.apiKey)
	form.Set("client_secret", c.apiSecret)
	form.Set("code", code)

	endpoint := fmt.Sprintf("https://%s/admin/oauth/access_token", shopDomain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindTransientIO, "token exchange unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", apperr.Wrap(apperr.KindTransientIO, "token exchange read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", apperr.New(apperr.KindAuth, fmt.Sprintf("token exchange returned %d", resp.StatusCode))
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", apperr.Wrap(apperr.KindAuth, "token exchange payload malformed", err)
	}
	if parsed.AccessToken == "" {
		return "", "", apperr.New(apperr.KindAuth, "token exchange returned no token")
	}
	return parsed.AccessToken, parsed.Scope, nil
}
