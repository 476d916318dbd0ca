package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	tenantdomain "github.com/observalabs/mirador/internal/tenant/domain"
)

type identityRequest struct {
	Credential string `json:"credential"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Picture    string `json:"picture"`
}

// AuthIdentity upserts the tenant from an identity-provider
// credential or bare profile fields. The credential's signature is
// checked by the identity provider in front of this service; here the
// claims are extracted and the email keys the tenant.
func (s *Server) AuthIdentity(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	identity := tenantdomain.IdentityRequest{
		Email:   req.Email,
		Name:    req.Name,
		Picture: req.Picture,
	}
	if req.Credential != "" {
		claims, err := parseIdentityClaims(req.Credential)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		identity = claims
	}

	tenant, err := s.tenantSvc.EnsureFromIdentity(c.Request.Context(), identity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

func parseIdentityClaims(credential string) (tenantdomain.IdentityRequest, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(strings.TrimSpace(credential), claims); err != nil {
		return tenantdomain.IdentityRequest{}, err
	}

	out := tenantdomain.IdentityRequest{}
	if email, ok := claims["email"].(string); ok {
		out.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		out.Name = name
	}
	if picture, ok := claims["picture"].(string); ok {
		out.Picture = picture
	}
	return out, nil
}
