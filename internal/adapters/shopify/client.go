package shopify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/observalabs/mirador/internal/apperr"
	"github.com/observalabs/mirador/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const apiVersion = "2024-01"

// DataType names the Shopify collections the adapter can pull.
const (
	DataTypeProducts  = "shopify_products"
	DataTypeOrders    = "shopify_orders"
	DataTypeInventory = "shopify_inventory"
)

func DataTypes() []string {
	return []string{DataTypeProducts, DataTypeOrders, DataTypeInventory}
}

// RawPayload is the uniform fetch result handed to the source-ref
// store: verbatim bytes plus the declared data type.
type RawPayload struct {
	DataType string
	Body     []byte
}

// Client is the Shopify fetch driver. It holds the app credentials,
// never a per-shop token; tokens travel with each call.
type Client struct {
	http      *http.Client
	apiKey    string
	apiSecret string
	scopes    []string
	baseURL   string
	log       *zap.Logger
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

func New(p Params) *Client {
	return &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		apiKey:    p.Cfg.ShopifyAPIKey,
		apiSecret: p.Cfg.ShopifyAPISecret,
		scopes:    p.Cfg.ShopifyScopes,
		baseURL:   p.Cfg.AppBaseURL,
		log:       p.Log.Named("adapter.shopify"),
	}
}

func (c *Client) Secret() string { return c.apiSecret }

// Fetch pulls one collection for one shop. The body is returned
// verbatim for checksumming and replay.
func (c *Client) Fetch(ctx context.Context, shopDomain, accessToken, dataType string) (RawPayload, error) {
	var resource string
	switch dataType {
	case DataTypeProducts:
		resource = "products.json?limit=250"
	case DataTypeOrders:
		resource = "orders.json?status=any&limit=250"
	case DataTypeInventory:
		resource = "inventory_levels.json?limit=250"
	default:
		return RawPayload{}, apperr.New(apperr.KindSourceSchema, fmt.Sprintf("unknown data type %q", dataType))
	}

	url := fmt.Sprintf("https://%s/admin/api/%s/%s", shopDomain, apiVersion, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RawPayload{}, err
	}
	req.Header.Set("X-Shopify-Access-Token", accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return RawPayload{}, apperr.Wrap(apperr.KindTransientIO, "shopify unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawPayload{}, apperr.Wrap(apperr.KindTransientIO, "shopify read failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return RawPayload{}, apperr.New(apperr.KindAuth, "shopify token rejected")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return RawPayload{}, apperr.New(apperr.KindTransientIO, fmt.Sprintf("shopify returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return RawPayload{}, apperr.New(apperr.KindSourceSchema, fmt.Sprintf("shopify returned %d", resp.StatusCode))
	}

	return RawPayload{DataType: dataType, Body: body}, nil
}

// WebhookResult reports one topic registration.
type WebhookResult struct {
	Topic string `json:"topic"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

var webhookTopics = []string{"products/update", "orders/create", "app/uninstalled"}

// RegisterWebhooks subscribes the app to change notifications for the
// shop. Registration failures are reported per topic, not fatal: the
// periodic sync covers shops without webhooks.
func (c *Client) RegisterWebhooks(ctx context.Context, shopDomain, accessToken string) []WebhookResult {
	results := make([]WebhookResult, 0, len(webhookTopics))
	for _, topic := range webhookTopics {
		err := c.registerWebhook(ctx, shopDomain, accessToken, topic)
		result := WebhookResult{Topic: topic, OK: err == nil}
		if err != nil {
			result.Error = err.Error()
			c.log.Warn("webhook registration failed",
				zap.String("shop", shopDomain),
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
		results = append(results, result)
	}
	return results
}

func (c *Client) registerWebhook(ctx context.Context, shopDomain, accessToken, topic string) error {
	body := fmt.Sprintf(
		`{"webhook":{"topic":%q,"address":%q,"format":"json"}}`,
		topic, c.baseURL+"/api/v1/webhooks/shopify",
	)
	url := fmt.Sprintf("https://%s/admin/api/%s/webhooks.json", shopDomain, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Shopify-Access-Token", accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// 422 means the topic is already subscribed.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusUnprocessableEntity {
		return fmt.Errorf("webhook create returned %d", resp.StatusCode)
	}
	return nil
}

var Module = fx.Module("adapter.shopify",
	fx.Provide(New),
)
