// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"strconv"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/middleware"
	"ai-tutor-go/internal/service"
	"ai-tutor-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AdminHandler 负责处理管理员的用户管理请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

func userIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("invalid user id %q", c.Param("id"))
	}
	return id, nil
}

// ListUsers 分页返回用户列表。
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	actor, _ := middleware.CurrentUser(c)

	res, err := h.adminService.ListUsers(c.Request.Context(), actor, page, size)
	if err != nil {
		fail(c, "ListUsers", err)
		return
	}
	ok(c, "success", res)
}

// CreateUserRequest 定义了管理员创建用户的请求体结构。
type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	IsAdmin  bool   `json:"isAdmin"`
}

// CreateUser 创建用户。
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "CreateUser", err)
		return
	}
	actor, _ := middleware.CurrentUser(c)
	user, err := h.adminService.CreateUser(c.Request.Context(), actor, service.CreateUserInput(req))
	if err != nil {
		fail(c, "CreateUser", err)
		return
	}
	log.Infof("User '%s' created by '%s'", user.Username, actor.Username)
	ok(c, "User created successfully", user.Profile())
}

// UpdateUser 修改用户资料与状态。
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		fail(c, "UpdateUser", err)
		return
	}
	var req service.UpdateUserInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "UpdateUser", err)
		return
	}
	actor, _ := middleware.CurrentUser(c)
	user, err := h.adminService.UpdateUser(c.Request.Context(), actor, id, req)
	if err != nil {
		fail(c, "UpdateUser", err)
		return
	}
	ok(c, "User updated successfully", user.Profile())
}

// FlagRequest 是启用/管理员开关的请求体。
type FlagRequest struct {
	Value *bool `json:"value" binding:"required"`
}

func bindFlag(c *gin.Context) (bool, error) {
	var req FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return false, err
	}
	if req.Value == nil {
		return false, errors.New("value is required")
	}
	return *req.Value, nil
}

// SetActive 启用或停用用户。
func (h *AdminHandler) SetActive(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		fail(c, "SetActive", err)
		return
	}
	active, err := bindFlag(c)
	if err != nil {
		badRequest(c, "SetActive", err)
		return
	}
	actor, _ := middleware.CurrentUser(c)
	user, err := h.adminService.SetActive(c.Request.Context(), actor, id, active)
	if err != nil {
		fail(c, "SetActive", err)
		return
	}
	ok(c, "User status updated", user.Profile())
}

// SetAdmin 授予或撤销管理员权限。
func (h *AdminHandler) SetAdmin(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		fail(c, "SetAdmin", err)
		return
	}
	admin, err := bindFlag(c)
	if err != nil {
		badRequest(c, "SetAdmin", err)
		return
	}
	actor, _ := middleware.CurrentUser(c)
	user, err := h.adminService.SetAdmin(c.Request.Context(), actor, id, admin)
	if err != nil {
		fail(c, "SetAdmin", err)
		return
	}
	ok(c, "User role updated", user.Profile())
}

// ResetPasswordRequest 是管理员重置密码的请求体。
type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword" binding:"required"`
}

// ChangePassword 重置用户密码。
func (h *AdminHandler) ChangePassword(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		fail(c, "ChangePassword", err)
		return
	}
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ChangePassword", err)
		return
	}
	actor, _ := middleware.CurrentUser(c)
	if err := h.adminService.ChangePassword(c.Request.Context(), actor, id, req.NewPassword); err != nil {
		fail(c, "ChangePassword", err)
		return
	}
	ok(c, "Password changed successfully", nil)
}

// DeleteUser 删除用户。
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, err := userIDParam(c)
	if err != nil {
		fail(c, "DeleteUser", err)
		return
	}
	actor, _ := middleware.CurrentUser(c)
	if err := h.adminService.DeleteUser(c.Request.Context(), actor, id); err != nil {
		fail(c, "DeleteUser", err)
		return
	}
	ok(c, "User deleted successfully", nil)
}
