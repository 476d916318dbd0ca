package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	feeddomain "github.com/observalabs/mirador/internal/feed/domain"
)

func feedListFilterForLegislator(externalID string) feeddomain.ListFilter {
	return feeddomain.ListFilter{Tags: []string{"legislator:" + externalID}}
}

func (s *Server) ListFeed(c *gin.Context) {
	filter := feeddomain.ListFilter{
		Type:     c.Query("type"),
		Block:    c.Query("blockId"),
		Province: c.Query("provinceId"),
	}
	if raw := c.Query("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}
	if raw := c.Query("tenantId"); raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil {
			filter.TenantID = &id
		}
	}

	resp, err := s.feedSvc.List(c.Request.Context(), filter, bindPagination(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetFeedPost(c *gin.Context) {
	post, err := s.feedSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}
