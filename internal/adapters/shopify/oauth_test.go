package shopify

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"

	"github.com/observalabs/mirador/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient() *Client {
	return New(Params{
		Cfg: config.Config{
			ShopifyAPIKey:    "key123",
			ShopifyAPISecret: "secret123",
			ShopifyScopes:    []string{"read_products", "read_orders"},
			AppBaseURL:       "https://app.example.com",
		},
		Log: zap.NewNop(),
	})
}

func TestBuildAuthURLCarriesState(t *testing.T) {
	client := testClient()

	raw, err := client.BuildAuthURL("s.myshopify.com", "u@t.io")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "s.myshopify.com", parsed.Host)
	assert.Equal(t, "/admin/oauth/authorize", parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "key123", query.Get("client_id"))
	assert.Equal(t, "read_products,read_orders", query.Get("scope"))
	assert.Equal(t, "https://app.example.com/callback", query.Get("redirect_uri"))

	state := query.Get("state")
	parts := strings.SplitN(state, ":", 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 32) // hex nonce
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("u@t.io")), parts[1])
}

func TestDecodeState(t *testing.T) {
	client := testClient()
	raw, err := client.BuildAuthURL("s.myshopify.com", "u@t.io")
	require.NoError(t, err)
	parsed, _ := url.Parse(raw)

	nonce, carry, err := DecodeState(parsed.Query().Get("state"))
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)
	assert.Equal(t, "u@t.io", carry)
}

func TestDecodeStateRejectsMalformed(t *testing.T) {
	for _, state := range []string{"", "nonce-only", ":b64", "nonce:%%%"} {
		_, _, err := DecodeState(state)
		assert.Error(t, err, "state %q", state)
	}
}
