// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware 检查用户是否具有管理员权限。
// 此中间件必须在 AuthMiddleware 之后使用。
func AdminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		currentUser, ok := CurrentUser(c)
		if !ok {
			// AuthMiddleware 未能设置用户，属于路由配置错误
			abort(c, http.StatusInternalServerError, "User context is missing")
			return
		}
		if !currentUser.IsAdmin {
			abort(c, http.StatusForbidden, "Administrator privileges required")
			return
		}
		c.Next()
	}
}
