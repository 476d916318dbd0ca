package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/observalabs/mirador/internal/adapters/shopify"
	"github.com/observalabs/mirador/internal/config"
	connectiondomain "github.com/observalabs/mirador/internal/connection/domain"
	"github.com/observalabs/mirador/internal/jobqueue"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConnectionService struct {
	connectiondomain.Service

	conn          *connectiondomain.Connection
	strikes       int
	strikeCleared bool
	errored       bool
}

func (f *fakeConnectionService) GetByShopDomain(ctx context.Context, shopDomain string) (connectiondomain.Connection, error) {
	if f.conn == nil || f.conn.ShopDomain != shopDomain {
		return connectiondomain.Connection{}, connectiondomain.ErrNotFound
	}
	return *f.conn, nil
}

func (f *fakeConnectionService) RecordSignatureStrike(ctx context.Context, shopDomain string) (bool, error) {
	f.strikes++
	return f.strikes >= connectiondomain.SignatureStrikeLimit, nil
}

func (f *fakeConnectionService) ClearSignatureStrikes(ctx context.Context, id snowflake.ID) error {
	f.strikeCleared = true
	return nil
}

func (f *fakeConnectionService) MarkError(ctx context.Context, id snowflake.ID, cause string) error {
	f.errored = true
	return nil
}

const webhookSecret = "webhook-secret"

func newWebhookServer(t *testing.T, fake *fakeConnectionService) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client := shopify.New(shopify.Params{
		Cfg: config.Config{
			ShopifyAPIKey:    "key",
			ShopifyAPISecret: webhookSecret,
			ShopifyScopes:    []string{"read_products"},
			AppBaseURL:       "https://app.example.com",
		},
		Log: zap.NewNop(),
	})

	// An unreachable broker: enqueues fail and are logged, which the
	// webhook path tolerates by design.
	queue := jobqueue.New(jobqueue.Params{
		Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}),
		Log:    zap.NewNop(),
	})

	return &Server{
		log:           zap.NewNop(),
		shopify:       client,
		connectionSvc: fake,
		queue:         queue,
	}
}

func performWebhook(s *Server, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/webhooks/shopify", s.ShopifyWebhook)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/shopify", bytes.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRejectsBadHMAC(t *testing.T) {
	fake := &fakeConnectionService{}
	s := newWebhookServer(t, fake)

	body := []byte(`{"id": 1}`)
	signature := shopify.SignWebhook(body, webhookSecret)
	corrupted := []byte(signature)
	corrupted[0] ^= 0x01

	w := performWebhook(s, body, map[string]string{
		headerShopDomain: "s.myshopify.com",
		headerTopic:      "products/update",
		headerHmac:       string(corrupted),
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid HMAC")
	assert.Equal(t, 1, fake.strikes)
}

func TestWebhookRequiresRoutingHeaders(t *testing.T) {
	fake := &fakeConnectionService{}
	s := newWebhookServer(t, fake)

	body := []byte(`{"id": 1}`)
	w := performWebhook(s, body, map[string]string{
		headerHmac: shopify.SignWebhook(body, webhookSecret),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, fake.strikes)
}

func TestWebhookAcknowledgesUnknownShop(t *testing.T) {
	fake := &fakeConnectionService{}
	s := newWebhookServer(t, fake)

	body := []byte(`{"id": 1}`)
	w := performWebhook(s, body, map[string]string{
		headerShopDomain: "unknown.myshopify.com",
		headerTopic:      "products/update",
		headerHmac:       shopify.SignWebhook(body, webhookSecret),
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)
}

func TestWebhookValidSignatureClearsStrikes(t *testing.T) {
	fake := &fakeConnectionService{
		conn: &connectiondomain.Connection{
			ID:         snowflake.ID(1),
			TenantID:   snowflake.ID(2),
			ShopDomain: "s.myshopify.com",
		},
	}
	s := newWebhookServer(t, fake)

	body := []byte(`{"id": 99, "title": "updated"}`)
	w := performWebhook(s, body, map[string]string{
		headerShopDomain: "s.myshopify.com",
		headerTopic:      "products/update",
		headerHmac:       shopify.SignWebhook(body, webhookSecret),
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, fake.strikeCleared)
	assert.Zero(t, fake.strikes)
}

func TestWebhookUninstallMarksConnection(t *testing.T) {
	fake := &fakeConnectionService{
		conn: &connectiondomain.Connection{
			ID:         snowflake.ID(1),
			TenantID:   snowflake.ID(2),
			ShopDomain: "s.myshopify.com",
		},
	}
	s := newWebhookServer(t, fake)

	body := []byte(`{}`)
	w := performWebhook(s, body, map[string]string{
		headerShopDomain: "s.myshopify.com",
		headerTopic:      "app/uninstalled",
		headerHmac:       shopify.SignWebhook(body, webhookSecret),
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, fake.errored)
}
