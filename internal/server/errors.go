package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/observalabs/mirador/internal/apperr"
	connectiondomain "github.com/observalabs/mirador/internal/connection/domain"
	feeddomain "github.com/observalabs/mirador/internal/feed/domain"
	tenantdomain "github.com/observalabs/mirador/internal/tenant/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

// ErrorHandlingMiddleware maps every error kind to a stable string
// code plus a user-safe message; internal structure never surfaces.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch apperr.KindOf(err) {
	case apperr.KindAuth:
		return http.StatusUnauthorized, errorPayload{Type: "auth_error", Message: "authentication failed"}
	case apperr.KindForbidden:
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "plan does not allow this operation"}
	case apperr.KindNotFound:
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case apperr.KindRateLimit:
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "try again later"}
	case apperr.KindConflict:
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "conflicting write"}
	case apperr.KindSourceSchema:
		return http.StatusBadRequest, errorPayload{Type: "source_schema", Message: "payload rejected"}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "authentication required"}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "not allowed"}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, tenantdomain.ErrNotFound),
		errors.Is(err, connectiondomain.ErrNotFound),
		errors.Is(err, feeddomain.ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, tenantdomain.ErrInvalidEmail),
		errors.Is(err, tenantdomain.ErrInvalidID),
		errors.Is(err, connectiondomain.ErrInvalidShopDomain),
		errors.Is(err, feeddomain.ErrInvalidID):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: "invalid request"}
	case errors.Is(err, connectiondomain.ErrShopTaken):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "shop already connected"}
	}

	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}
