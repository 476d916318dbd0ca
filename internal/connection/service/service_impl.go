package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/internal/connection/domain"
	"github.com/observalabs/mirador/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("connection.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (domain.Connection, error) {
	shop := normalizeShop(req.ShopDomain)
	if shop == "" {
		return domain.Connection{}, domain.ErrInvalidShopDomain
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		return domain.Connection{}, domain.ErrInvalidToken
	}

	existing, err := s.repo.FindByShopDomain(ctx, s.db, shop)
	if err != nil {
		return domain.Connection{}, err
	}
	if existing != nil && existing.TenantID != req.TenantID {
		// Unique by source domain: a shop already bound to another
		// tenant cannot be re-claimed through OAuth.
		return domain.Connection{}, domain.ErrShopTaken
	}

	now := s.clock.Now()
	if existing != nil {
		existing.AccessToken = req.AccessToken
		existing.Scopes = req.Scopes
		existing.UpdatedAt = now
		if err := s.repo.Update(ctx, s.db, existing); err != nil {
			return domain.Connection{}, err
		}
		return *existing, nil
	}

	source := req.Source
	if source == "" {
		source = "shopify"
	}
	conn := domain.Connection{
		ID:          s.genID.Generate(),
		TenantID:    req.TenantID,
		Source:      source,
		ShopDomain:  shop,
		AccessToken: req.AccessToken,
		Scopes:      req.Scopes,
		SyncStatus:  domain.SyncPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Upsert(ctx, s.db, &conn); err != nil {
		return domain.Connection{}, err
	}
	s.log.Info("connection created",
		zap.String("shop", shop),
		zap.String("tenant_id", conn.TenantID.String()),
	)
	return conn, nil
}

func (s *Service) GetByShopDomain(ctx context.Context, shopDomain string) (domain.Connection, error) {
	conn, err := s.repo.FindByShopDomain(ctx, s.db, normalizeShop(shopDomain))
	if err != nil {
		return domain.Connection{}, err
	}
	if conn == nil {
		return domain.Connection{}, domain.ErrNotFound
	}
	return *conn, nil
}

func (s *Service) GetForTenant(ctx context.Context, tenantID snowflake.ID, shopDomain string) (domain.Connection, error) {
	conn, err := s.repo.FindByTenantAndShop(ctx, s.db, tenantID, normalizeShop(shopDomain))
	if err != nil {
		return domain.Connection{}, err
	}
	if conn == nil {
		return domain.Connection{}, domain.ErrNotFound
	}
	return *conn, nil
}

func (s *Service) ListByTenant(ctx context.Context, tenantID snowflake.ID) ([]domain.Connection, error) {
	items, err := s.repo.FindByTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Connection, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) MarkSyncing(ctx context.Context, id snowflake.ID) error {
	return s.transition(ctx, id, domain.SyncRunning, func(conn *domain.Connection) {})
}

func (s *Service) MarkSynced(ctx context.Context, id snowflake.ID, counts domain.SyncCounts) error {
	return s.transition(ctx, id, domain.SyncSynced, func(conn *domain.Connection) {
		now := s.clock.Now()
		conn.LastSyncAt = &now
		conn.LastError = ""
		conn.SignatureStrikes = 0
		conn.ProductsCount = counts.Products
		conn.OrdersCount = counts.Orders
	})
}

func (s *Service) MarkError(ctx context.Context, id snowflake.ID, cause string) error {
	return s.transition(ctx, id, domain.SyncError, func(conn *domain.Connection) {
		conn.LastError = cause
	})
}

func (s *Service) RecordSignatureStrike(ctx context.Context, shopDomain string) (bool, error) {
	conn, err := s.repo.FindByShopDomain(ctx, s.db, normalizeShop(shopDomain))
	if err != nil {
		return false, err
	}
	if conn == nil {
		return false, domain.ErrNotFound
	}
	conn.SignatureStrikes++
	tripped := conn.SignatureStrikes >= domain.SignatureStrikeLimit
	if tripped && conn.SyncStatus != domain.SyncError {
		conn.SyncStatus = domain.SyncError
		conn.LastError = "webhook signature verification failed repeatedly"
	}
	conn.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, conn); err != nil {
		return false, err
	}
	return tripped, nil
}

func (s *Service) ClearSignatureStrikes(ctx context.Context, id snowflake.ID) error {
	conn, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if conn.SignatureStrikes == 0 {
		return nil
	}
	conn.SignatureStrikes = 0
	conn.UpdatedAt = s.clock.Now()
	return s.repo.Update(ctx, s.db, conn)
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, to domain.SyncStatus, mutate func(*domain.Connection)) error {
	conn, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if conn.SyncStatus != to && !conn.SyncStatus.CanTransition(to) {
		s.log.Warn("sync status transition refused",
			zap.String("shop", conn.ShopDomain),
			zap.String("from", string(conn.SyncStatus)),
			zap.String("to", string(to)),
		)
		return nil
	}
	conn.SyncStatus = to
	mutate(conn)
	conn.UpdatedAt = s.clock.Now()
	return s.repo.Update(ctx, s.db, conn)
}

func (s *Service) find(ctx context.Context, id snowflake.ID) (*domain.Connection, error) {
	stmt := s.db.WithContext(ctx).Where("id = ?", id)
	// A tenant-scoped caller only sees its own connection; system
	// paths (workers, webhooks) pass the guard via their scope.
	if tenantID, ok := tenantctx.TenantID(ctx); ok {
		stmt = stmt.Where("tenant_id = ?", tenantID)
	}
	var conn domain.Connection
	if err := stmt.First(&conn).Error; err != nil {
		return nil, domain.ErrNotFound
	}
	return &conn, nil
}

func normalizeShop(raw string) string {
	shop := strings.ToLower(strings.TrimSpace(raw))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	shop = strings.TrimSuffix(shop, "/")
	if shop == "" || strings.ContainsAny(shop, " /?#") {
		return ""
	}
	return shop
}
