package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-result-api/internal/middleware"
	"github.com/noah-isme/lab-result-api/internal/models"
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

func actorFromContext(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return "", false
	}
	return claims.UserID, true
}
