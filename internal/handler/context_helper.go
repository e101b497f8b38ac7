package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-counsel-api/internal/middleware"
	"github.com/noah-isme/sma-counsel-api/internal/models"
	appErrors "github.com/noah-isme/sma-counsel-api/pkg/errors"
	"github.com/noah-isme/sma-counsel-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// teacherFromContext returns the authenticated teacher id, writing a 401 when absent.
func teacherFromContext(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return claims.UserID, true
}
