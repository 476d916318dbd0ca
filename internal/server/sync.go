package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/observalabs/mirador/internal/analysis"
	"github.com/observalabs/mirador/internal/jobqueue"
	tenantdomain "github.com/observalabs/mirador/internal/tenant/domain"
	"github.com/observalabs/mirador/pkg/tenantctx"
	"go.uber.org/zap"
)

// freePlanSolveLimit gates POST /analyze for free-tier tenants.
const freePlanSolveLimit = 25

type syncRequest struct {
	Shop  string `json:"shop" binding:"required"`
	Email string `json:"email" binding:"required"`
}

// Sync triggers a user-initiated inline sync, rate-limited to one per
// cooldown window per connection. Scheduler syncs bypass this path.
func (s *Server) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	tenant, err := s.tenantSvc.GetByEmail(ctx, req.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx = tenantctx.WithTenantID(ctx, tenant.ID)

	conn, err := s.connectionSvc.GetForTenant(ctx, tenant.ID, req.Shop)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	allowed, retryAfter, err := s.syncLimiter.Allow(ctx, "sync:"+conn.ShopDomain)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     "rate_limited",
			"last_sync": conn.LastSyncAt,
			"message":   fmt.Sprintf("sync was triggered recently; retry in %s", retryAfter.Round(time.Second)),
		})
		return
	}

	outcome, err := s.workers.SyncConnection(ctx, conn)
	if err != nil {
		s.log.Warn("user sync failed", zap.String("shop", conn.ShopDomain), zap.Error(err))
		AbortWithError(c, err)
		return
	}

	refreshed, err := s.connectionSvc.GetForTenant(ctx, tenant.ID, conn.ShopDomain)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"last_sync": refreshed.LastSyncAt,
		"synced": gin.H{
			"products":  outcome.Products,
			"orders":    outcome.Orders,
			"inventory": outcome.Inventory,
		},
	})
}

type analyzeRequest struct {
	StoreID   string                `json:"store_id"`
	UserID    string                `json:"user_id" binding:"required"`
	Modules   []analysis.ModuleName `json:"modules"`
	UserCosts analysis.UserCosts    `json:"user_costs"`
}

// Analyze runs the derived-state engine over the tenant's current raw
// state and returns the recommendation bundle.
func (s *Server) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	tenant, err := s.tenantSvc.GetByID(ctx, req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if tenant.Plan == tenantdomain.PlanFree && tenant.SolveCount >= freePlanSolveLimit {
		AbortWithError(c, ErrForbidden)
		return
	}
	ctx = tenantctx.WithTenantID(ctx, tenant.ID)

	bundle, err := s.analysisSvc.Run(ctx, tenant.ID, req.Modules, req.UserCosts)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.tenantSvc.RecordSolve(ctx, req.UserID); err != nil {
		s.log.Warn("solve counter update failed", zap.Error(err))
	}

	if _, err := s.queue.Enqueue(ctx, jobqueue.QueueFeed, "feed:emit", jobqueue.FeedPayload{
		EventKind: "ANALYSIS_READY",
		EntityID:  tenant.ID.String(),
		TenantID:  tenant.ID.String(),
	}); err != nil {
		s.log.Warn("analysis feed enqueue failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, bundle)
}

// Reindex reports corpus counts and schedules a full metric
// recomputation; the search index itself is rebuilt by its own
// backend from the same counts.
func (s *Server) Reindex(c *gin.Context) {
	ctx := c.Request.Context()

	legislators, err := s.legisRepo.CountLegislators(ctx, s.db)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	bills, err := s.legisRepo.CountBills(ctx, s.db)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.queue.Enqueue(ctx, jobqueue.QueueMetrics, "metrics:recompute-all", map[string]any{}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"legislators": legislators,
		"bills":       bills,
	})
}
