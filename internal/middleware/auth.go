// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/model"
	"ai-tutor-go/internal/service"
	"ai-tutor-go/pkg/log"
	"ai-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
)

const (
	userKey   = "user"
	claimsKey = "claims"
	tokenKey  = "token"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "Authorization header is required")
			return
		}
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			abort(c, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			abort(c, http.StatusUnauthorized, apperr.Message(apperr.ErrInvalidToken))
			return
		}
		if userService.IsRevoked(c.Request.Context(), tokenString) {
			abort(c, http.StatusUnauthorized, apperr.Message(apperr.ErrInvalidToken))
			return
		}

		// token 签发后用户可能已被删除或停用
		user, err := userService.GetProfile(c.Request.Context(), claims.UserID)
		if err != nil {
			log.Warnf("AuthMiddleware: load user %d error: %v", claims.UserID, err)
			abort(c, http.StatusUnauthorized, apperr.Message(apperr.ErrInvalidToken))
			return
		}
		if !user.IsActive {
			abort(c, http.StatusUnauthorized, apperr.Message(apperr.ErrUserInactive))
			return
		}

		c.Set(userKey, user)
		c.Set(claimsKey, claims)
		c.Set(tokenKey, tokenString)
		c.Next()
	}
}

// CurrentUser 返回 AuthMiddleware 存入上下文的用户。
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// CurrentToken 返回当前请求的 access token。
func CurrentToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message, "data": nil})
}
