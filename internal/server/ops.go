package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/observalabs/mirador/internal/ingestion"
	"github.com/observalabs/mirador/internal/jobqueue"
)

// ListRuns exposes the ingestion audit trail.
func (s *Server) ListRuns(c *gin.Context) {
	filter := ingestion.ListFilter{
		Source: c.Query("source"),
		Status: c.Query("status"),
	}
	runs, pageInfo, err := s.runs.List(c.Request.Context(), filter, bindPagination(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":      runs,
		"page_info": pageInfo,
	})
}

func (s *Server) QueueStats(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// QueueDeadLetters surfaces the manual-inspection area of one queue.
func (s *Server) QueueDeadLetters(c *gin.Context) {
	queue := jobqueue.QueueName(c.DefaultQuery("queue", string(jobqueue.QueueIngest)))
	jobs, err := s.queue.DeadLetters(c.Request.Context(), queue)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": queue, "jobs": jobs})
}

// TriggerSchedule fires one schedule on demand; guarded by the cron
// shared secret.
func (s *Server) TriggerSchedule(c *gin.Context) {
	name := c.Param("schedule")
	if err := s.scheduler.Trigger(c.Request.Context(), name); err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggered": name})
}
