package httpserver

import (
	"net/http"

	"alarmd/pkg/rbac"

	"github.com/gin-gonic/gin"
)

// RequirePermission 中间件：要求调用方角色具有指定权限，必须挂在 AuthMiddleware 之后
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "caller not authenticated"})
			c.Abort()
			return
		}

		r, ok := role.(string)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid role"})
			c.Abort()
			return
		}

		if err := rbac.CheckPermission(r, permission); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "permission": permission})
			c.Abort()
			return
		}

		c.Next()
	}
}
