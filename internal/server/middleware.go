package server

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

const headerCronSecret = "X-Cron-Secret"

// CronAuthRequired guards the authenticated cron endpoints with the
// shared scheduler secret.
func (s *Server) CronAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(headerCronSecret)
		if provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.CronSecret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
