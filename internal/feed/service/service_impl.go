package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/internal/feed/domain"
	"github.com/observalabs/mirador/pkg/db/pagination"
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
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("feed.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Publish(ctx context.Context, post domain.FeedPost) (domain.FeedPost, error) {
	if strings.TrimSpace(post.Title) == "" {
		return domain.FeedPost{}, domain.ErrInvalidTitle
	}
	post.ID = s.genID.Generate()
	post.CreatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return domain.FeedPost{}, err
	}
	return post, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter, page pagination.Pagination) (domain.ListResponse, error) {
	stmt := s.db.WithContext(ctx).Model(&domain.FeedPost{})
	if filter.TenantID != nil {
		// Tenant-scoped reads see their own posts plus the global
		// feed.
		stmt = stmt.Where(
			s.db.Where("tenant_id = ?", *filter.TenantID).Or("tenant_id IS NULL"),
		)
	}
	if filter.Type != "" {
		stmt = stmt.Where("type = ?", filter.Type)
	}
	tags := filter.Tags
	if filter.Block != "" {
		tags = append(tags, "block:"+filter.Block)
	}
	if filter.Province != "" {
		tags = append(tags, "province:"+filter.Province)
	}
	for _, tag := range tags {
		stmt = stmt.Where("tags LIKE ?", "%"+tag+"%")
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return domain.ListResponse{}, err
	}

	var posts []domain.FeedPost
	err := page.Apply(stmt).
		Order("created_at DESC, id DESC").
		Find(&posts).Error
	if err != nil {
		return domain.ListResponse{}, err
	}

	return domain.ListResponse{
		PageInfo: pagination.BuildPageInfo(page, total),
		Posts:    posts,
	}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.FeedPost, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return domain.FeedPost{}, domain.ErrInvalidID
	}
	var post domain.FeedPost
	ferr := s.db.WithContext(ctx).Where("id = ?", parsed).First(&post).Error
	if ferr != nil {
		return domain.FeedPost{}, domain.ErrNotFound
	}
	return post, nil
}
