// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"time"

	"ai-tutor-go/internal/middleware"
	"ai-tutor-go/internal/service"
	"ai-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// RouterConfig 汇总构建路由所需的依赖。Redis 为 nil 或 RateLimitQPS 为 0 时不限流。
type RouterConfig struct {
	UserService       service.UserService
	AdminService      service.AdminService
	TutorService      service.TutorService
	JWTManager        *token.JWTManager
	Redis             *redis.Client
	RateLimitQPS      int
	CORSOrigins       []string
	AllowRegistration bool
	Version           string
}

// NewRouter 注册所有路由并返回 gin.Engine。
func NewRouter(rc RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	if len(rc.CORSOrigins) > 0 {
		r.Use(middleware.CORS(rc.CORSOrigins))
	}

	userHandler := NewUserHandler(rc.UserService, rc.AllowRegistration)
	authHandler := NewAuthHandler(rc.UserService)
	adminHandler := NewAdminHandler(rc.AdminService)
	conversationHandler := NewConversationHandler(rc.TutorService)
	audioHandler := NewAudioHandler(rc.TutorService)
	chatHandler := NewChatHandler(rc.TutorService, rc.UserService, rc.JWTManager)

	auth := middleware.AuthMiddleware(rc.JWTManager, rc.UserService)
	limit := func(c *gin.Context) { c.Next() }
	if rc.Redis != nil && rc.RateLimitQPS > 0 {
		limit = middleware.RateLimit(rc.Redis, rc.RateLimitQPS)
	}

	started := time.Now()
	r.GET("/", func(c *gin.Context) {
		ok(c, "success", gin.H{"service": "ai-tutor", "version": rc.Version})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": time.Since(started).Round(time.Second).String()})
	})

	apiV1 := r.Group("/api/v1")
	{
		authRoutes := apiV1.Group("/auth")
		{
			authRoutes.POST("/login", userHandler.Login)
			authRoutes.POST("/register", userHandler.Register)
			authRoutes.POST("/refreshToken", authHandler.RefreshToken)

			authed := authRoutes.Group("")
			authed.Use(auth)
			{
				authed.POST("/logout", userHandler.Logout)
				authed.GET("/me", userHandler.GetProfile)
				authed.PUT("/me/password", userHandler.ChangePassword)
			}
		}

		conversationRoutes := apiV1.Group("/conversation")
		{
			conversationRoutes.GET("/levels", conversationHandler.Levels)
			conversationRoutes.GET("/personas", conversationHandler.Personas)
			conversationRoutes.GET("/topics", conversationHandler.Topics)

			authed := conversationRoutes.Group("")
			authed.Use(auth, limit)
			{
				authed.POST("/send", conversationHandler.Send)
				authed.GET("/sessions", conversationHandler.ListSessions)
				authed.POST("/sessions", conversationHandler.StartSession)
				authed.GET("/sessions/:id", conversationHandler.GetSession)
				authed.PUT("/sessions/:id/settings", conversationHandler.UpdateSettings)
				authed.POST("/sessions/:id/messages", conversationHandler.SendMessage)
				authed.POST("/sessions/:id/audio", conversationHandler.SendAudio)
				authed.DELETE("/sessions/:id/history", conversationHandler.ResetHistory)
				authed.DELETE("/sessions/:id", conversationHandler.DeleteSession)
			}
		}

		audioRoutes := apiV1.Group("/audio")
		{
			audioRoutes.GET("/voices", audioHandler.Voices)
			audioRoutes.GET("/languages", audioHandler.Languages)

			authed := audioRoutes.Group("")
			authed.Use(auth, limit)
			{
				authed.POST("/transcribe", audioHandler.Transcribe)
				authed.POST("/synthesize", audioHandler.Synthesize)
			}
		}

		adminRoutes := apiV1.Group("/admin")
		adminRoutes.Use(auth, middleware.AdminAuthMiddleware())
		{
			adminRoutes.GET("/users", adminHandler.ListUsers)
			adminRoutes.POST("/users", adminHandler.CreateUser)
			adminRoutes.PUT("/users/:id", adminHandler.UpdateUser)
			adminRoutes.PUT("/users/:id/active", adminHandler.SetActive)
			adminRoutes.PUT("/users/:id/admin", adminHandler.SetAdmin)
			adminRoutes.PUT("/users/:id/password", adminHandler.ChangePassword)
			adminRoutes.DELETE("/users/:id", adminHandler.DeleteUser)
		}
	}

	r.GET("/chat/:token", chatHandler.Handle)
	return r
}
