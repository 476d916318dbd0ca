package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/observalabs/mirador/internal/adapters/shopify"
	connectiondomain "github.com/observalabs/mirador/internal/connection/domain"
	feeddomain "github.com/observalabs/mirador/internal/feed/domain"
	"github.com/observalabs/mirador/internal/pipeline"
	tenantdomain "github.com/observalabs/mirador/internal/tenant/domain"
	"github.com/observalabs/mirador/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Connect begins the OAuth handshake: 302 to the provider
// authorization URL with the tenant email as carry state.
func (s *Server) Connect(c *gin.Context) {
	shop := c.Query("shop")
	email := c.Query("email")
	if shop == "" || email == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	authURL, err := s.shopify.BuildAuthURL(shop, email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// Callback finishes the handshake: decode state, resolve the tenant,
// exchange the code, upsert the connection, register change
// notifications, then run the inline initial sync so the user returns
// to the app with data already present.
func (s *Server) Callback(c *gin.Context) {
	code := c.Query("code")
	shop := c.Query("shop")
	state := c.Query("state")
	if code == "" || shop == "" || state == "" {
		s.redirectError(c, "missing_params")
		return
	}

	_, carry, err := shopify.DecodeState(state)
	if err != nil {
		s.redirectError(c, "missing_params")
		return
	}

	// The handshake precedes tenant scoping: the carry value is what
	// resolves the tenant, and the shop-domain uniqueness check reads
	// across tenants.
	ctx := tenantctx.WithSystemScope(c.Request.Context())
	tenant, softMatched, err := s.resolveCallbackTenant(ctx, carry)
	if err != nil {
		s.redirectError(c, "no_user")
		return
	}

	token, scopes, err := s.shopify.ExchangeCodeForToken(ctx, shop, code)
	if err != nil {
		s.log.Warn("token exchange failed", zap.String("shop", shop), zap.Error(err))
		s.redirectError(c, "auth_failed")
		return
	}

	conn, err := s.connectionSvc.Upsert(ctx, connectiondomain.UpsertRequest{
		TenantID:    tenant.ID,
		Source:      "shopify",
		ShopDomain:  shop,
		AccessToken: token,
		Scopes:      scopes,
	})
	if err != nil {
		s.redirectError(c, "auth_failed")
		return
	}

	if softMatched {
		// The soft match is audited; the mismatch is visible in the
		// tenant's feed.
		_, _ = s.feedSvc.Publish(ctx, feeddomain.FeedPost{
			TenantID:   &tenant.ID,
			Type:       feeddomain.TypeConnectionEvent,
			Title:      "Connection soft-matched",
			Body:       "OAuth carry value did not resolve; connection bound to the most recent highest-plan tenant.",
			Payload:    datatypes.JSONMap{"shop": conn.ShopDomain},
			EntityKind: "connection",
			EntityID:   &conn.ID,
			Tags:       "soft-match",
		})
	}

	s.shopify.RegisterWebhooks(ctx, conn.ShopDomain, token)

	var outcome pipeline.SyncOutcome
	if synced, serr := s.workers.SyncConnection(ctx, conn); serr != nil {
		// The connection remains, marked error; the SPA shows the
		// re-connect call-to-action.
		s.log.Warn("inline sync failed", zap.String("shop", shop), zap.Error(serr))
	} else {
		outcome = synced
	}

	c.Redirect(http.StatusFound, s.cfg.AppBaseURL+
		"/legacy/app.html?shopify_connected=true"+
		"&shop="+conn.ShopDomain+
		"&products="+strconv.Itoa(outcome.Products)+
		"&orders="+strconv.Itoa(outcome.Orders))
}

func (s *Server) resolveCallbackTenant(ctx context.Context, carry string) (tenantdomain.Tenant, bool, error) {
	tenant, err := s.tenantSvc.GetByEmail(ctx, carry)
	if err == nil {
		return tenant, false, nil
	}
	if !s.cfg.OAuthSoftMatch {
		return tenantdomain.Tenant{}, false, err
	}
	fallback, ferr := s.tenantSvc.ResolveSoftMatch(ctx)
	if ferr != nil {
		return tenantdomain.Tenant{}, false, ferr
	}
	return fallback, true, nil
}

func (s *Server) redirectError(c *gin.Context, code string) {
	c.Redirect(http.StatusFound, s.cfg.AppBaseURL+"/legacy/app.html?error="+code)
}
