package pagination

import "gorm.io/gorm"

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Pagination struct {
	Page  int `form:"page,default=1"`
	Limit int `form:"limit,default=20"`
}

type PageInfo struct {
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

func (p Pagination) normalized() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Apply adds OFFSET/LIMIT to stmt.
func (p Pagination) Apply(stmt *gorm.DB) *gorm.DB {
	p = p.normalized()
	return stmt.Offset((p.Page - 1) * p.Limit).Limit(p.Limit)
}

// BuildPageInfo derives the page descriptor from a counted query.
func BuildPageInfo(p Pagination, total int64) PageInfo {
	p = p.normalized()
	return PageInfo{
		Page:    p.Page,
		Limit:   p.Limit,
		Total:   total,
		HasMore: int64(p.Page*p.Limit) < total,
	}
}
