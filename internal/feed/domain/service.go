package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/pkg/db/pagination"
)

type ListFilter struct {
	TenantID *snowflake.ID
	Type     string
	Block    string
	Province string
	Tags     []string
}

type ListResponse struct {
	pagination.PageInfo
	Posts []FeedPost `json:"posts"`
}

type Service interface {
	// Publish appends one post; the feed is append-only.
	Publish(ctx context.Context, post FeedPost) (FeedPost, error)
	List(ctx context.Context, filter ListFilter, page pagination.Pagination) (ListResponse, error)
	GetByID(ctx context.Context, id string) (FeedPost, error)
}

var (
	ErrInvalidID    = errors.New("invalid_id")
	ErrInvalidTitle = errors.New("invalid_title")
	ErrNotFound     = errors.New("not_found")
)
