package middlewares

import (
	"net/http"

	"github.com/geocoder89/authcore/internal/rbac"
	"github.com/gin-gonic/gin"
)

// RequirePermission is a coarse gate on the token's permission set. The
// operations behind it re-check against the stored user.
func (m *AuthMiddleware) RequirePermission(perms ...rbac.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "unauthorized",
					"message": "Missing identity context",
				},
			})
			return
		}
		if !rbac.HasAllPermissions(claims, perms...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "FORBIDDEN",
					"message": "Missing required permission",
				},
			})
			return
		}
		c.Next()
	}
}
