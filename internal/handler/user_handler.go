// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"ai-tutor-go/internal/middleware"
	"ai-tutor-go/internal/service"
	"ai-tutor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理登录、注册以及当前用户相关的 API 请求。
type UserHandler struct {
	userService       service.UserService
	allowRegistration bool
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService, allowRegistration bool) *UserHandler {
	return &UserHandler{userService: userService, allowRegistration: allowRegistration}
}

// RegisterRequest 定义了用户注册 API 的请求体结构。
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// Register 处理用户自助注册请求，需要在配置中开启。
func (h *UserHandler) Register(c *gin.Context) {
	if !h.allowRegistration {
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "Registration is disabled, please ask an administrator", "data": nil})
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Register", err)
		return
	}

	user, err := h.userService.Register(c.Request.Context(), service.CreateUserInput{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		fail(c, "Register", err)
		return
	}

	log.Infof("User '%s' registered successfully", user.Username)
	ok(c, "User registered successfully", user.Profile())
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Login", err)
		return
	}

	res, err := h.userService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, "Login: login failed for '"+req.Username+"'", err)
		return
	}

	log.Infof("User '%s' logged in successfully", res.User.Username)
	ok(c, "Login successful", gin.H{
		"token":        res.AccessToken,
		"refreshToken": res.RefreshToken,
		"user":         res.User.Profile(),
	})
}

// GetProfile 返回当前登录用户的信息。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	ok(c, "success", user.Profile())
}

// Logout 将当前 token 加入黑名单。
func (h *UserHandler) Logout(c *gin.Context) {
	if err := h.userService.Logout(c.Request.Context(), middleware.CurrentToken(c)); err != nil {
		fail(c, "Logout", err)
		return
	}
	ok(c, "Logout successful", nil)
}

// ChangePasswordRequest 定义了修改本人密码的请求体结构。
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// ChangePassword 修改当前用户的密码。
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ChangePassword", err)
		return
	}
	user, _ := middleware.CurrentUser(c)
	if err := h.userService.ChangeOwnPassword(c.Request.Context(), user, req.OldPassword, req.NewPassword); err != nil {
		fail(c, "ChangePassword", err)
		return
	}
	ok(c, "Password changed successfully", nil)
}
