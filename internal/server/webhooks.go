package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/observalabs/mirador/internal/adapters/shopify"
	"github.com/observalabs/mirador/internal/jobqueue"
	"github.com/observalabs/mirador/pkg/tenantctx"
	"go.uber.org/zap"
)

const (
	headerShopDomain = "X-Shopify-Shop-Domain"
	headerTopic      = "X-Shopify-Topic"
	headerHmac       = "X-Shopify-Hmac-Sha256"
)

// ShopifyWebhook verifies and records one change notification.
// Invalid signatures produce 401; missing routing headers 400; every
// other path returns 200 so the provider stops retrying once the
// notification is recorded.
func (s *Server) ShopifyWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	shopDomain := c.GetHeader(headerShopDomain)
	topic := c.GetHeader(headerTopic)
	if shopDomain == "" || topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing routing headers"})
		return
	}

	// Provider-initiated calls have no tenant of their own; the
	// connection row is resolved by shop domain under system scope.
	ctx := tenantctx.WithSystemScope(c.Request.Context())

	signature := c.GetHeader(headerHmac)
	if !shopify.VerifyWebhook(body, signature, s.shopify.Secret()) {
		if tripped, serr := s.connectionSvc.RecordSignatureStrike(ctx, shopDomain); serr == nil && tripped {
			s.log.Warn("connection disabled after repeated signature failures",
				zap.String("shop", shopDomain))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid HMAC"})
		return
	}

	conn, err := s.connectionSvc.GetByShopDomain(ctx, shopDomain)
	if err != nil {
		// Unknown shop; acknowledged so the provider stops retrying.
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	_ = s.connectionSvc.ClearSignatureStrikes(ctx, conn.ID)

	switch topic {
	case "products/update":
		s.enqueueWebhookFetch(c, conn.TenantID.String(), conn.ShopDomain, shopify.DataTypeProducts)
	case "orders/create":
		s.enqueueWebhookFetch(c, conn.TenantID.String(), conn.ShopDomain, shopify.DataTypeOrders)
	case "app/uninstalled":
		if err := s.connectionSvc.MarkError(ctx, conn.ID, "app uninstalled"); err != nil {
			s.log.Warn("uninstall handling failed", zap.Error(err))
		}
	default:
		s.log.Debug("webhook topic ignored", zap.String("topic", topic))
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) enqueueWebhookFetch(c *gin.Context, tenantID, shopDomain, dataType string) {
	payload := jobqueue.FetchPayload{
		Source:     "shopify",
		DataType:   dataType,
		TenantID:   tenantID,
		ShopDomain: shopDomain,
	}
	if _, err := s.queue.Enqueue(c.Request.Context(), jobqueue.QueueIngest, "ingest:fetch", payload); err != nil {
		// Recorded for later reprocessing; still acknowledged.
		s.log.Error("webhook fetch enqueue failed", zap.Error(err))
	}
}
