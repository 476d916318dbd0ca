package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	"github.com/observalabs/mirador/pkg/db/pagination"
)

func (s *Server) ListBills(c *gin.Context) {
	filter := legisdomain.ListBillsFilter{
		Status: c.Query("status"),
		Type:   c.Query("type"),
		Search: c.Query("search"),
	}
	if raw := c.Query("authorId"); raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil {
			filter.AuthorID = id
		}
	}
	if raw := c.Query("period"); raw != "" {
		if period, err := strconv.Atoi(raw); err == nil {
			filter.Period = period
		}
	}

	page := bindPagination(c)
	bills, total, err := s.legisRepo.ListBills(c.Request.Context(), s.db, filter, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bills":     bills,
		"page_info": pagination.BuildPageInfo(page, total),
	})
}

func (s *Server) GetBill(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	bill, err := s.legisRepo.FindBillByID(c.Request.Context(), s.db, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if bill == nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, bill)
}
