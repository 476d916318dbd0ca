package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	"github.com/observalabs/mirador/pkg/db/pagination"
)

func bindPagination(c *gin.Context) pagination.Pagination {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	return pagination.Pagination{Page: page, Limit: limit}
}

func (s *Server) ListLegislators(c *gin.Context) {
	filter := legisdomain.ListLegislatorsFilter{
		Block:    c.Query("blockId"),
		Province: c.Query("provinceId"),
		Search:   c.Query("search"),
	}
	if raw := c.Query("isActive"); raw != "" {
		active := raw == "true" || raw == "1"
		filter.IsActive = &active
	}

	page := bindPagination(c)
	legislators, total, err := s.legisRepo.ListLegislators(c.Request.Context(), s.db, filter, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"legislators": legislators,
		"page_info":   pagination.BuildPageInfo(page, total),
	})
}

func (s *Server) GetLegislator(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	legislator, err := s.legisRepo.FindLegislatorByID(c.Request.Context(), s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if legislator == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, legislator)
}

// GetLegislatorMetrics serves the derived row, computing it on first
// read of a period.
func (s *Server) GetLegislatorMetrics(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	period, _ := strconv.Atoi(c.Query("period"))

	ctx := c.Request.Context()
	metric, err := s.metricsSvc.Get(ctx, id, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if metric == nil {
		computed, cerr := s.metricsSvc.Recompute(ctx, id, period)
		if cerr != nil {
			AbortWithError(c, ErrNotFound)
			return
		}
		metric = &computed
	}
	c.JSON(http.StatusOK, metric)
}

// GetLegislatorActivity lists the feed entries attributable to one
// legislator.
func (s *Server) GetLegislatorActivity(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	ctx := c.Request.Context()
	legislator, err := s.legisRepo.FindLegislatorByID(ctx, s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if legislator == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	page := bindPagination(c)
	resp, err := s.feedSvc.List(ctx, feedListFilterForLegislator(legislator.ExternalID), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
