// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/model"
	"ai-tutor-go/internal/repository"
	"ai-tutor-go/pkg/kafka"
	"ai-tutor-go/pkg/log"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// UserListResponse 定义了用户列表 API 的响应结构。
type UserListResponse struct {
	Content       []model.UserProfile `json:"content"`
	TotalElements int64               `json:"totalElements"`
	TotalPages    int                 `json:"totalPages"`
	Size          int                 `json:"size"`
	Number        int                 `json:"number"`
}

// UpdateUserInput 描述管理员对用户的修改，nil 字段保持不变。
type UpdateUserInput struct {
	Email    *string `json:"email"`
	FullName *string `json:"fullName"`
	IsAdmin  *bool   `json:"isAdmin"`
	IsActive *bool   `json:"isActive"`
}

// AdminService 接口定义了所有管理员相关的业务操作，actor 为执行操作的用户。
type AdminService interface {
	CreateUser(ctx context.Context, actor *model.User, in CreateUserInput) (*model.User, error)
	ListUsers(ctx context.Context, actor *model.User, page, size int) (*UserListResponse, error)
	UpdateUser(ctx context.Context, actor *model.User, id int64, in UpdateUserInput) (*model.User, error)
	SetActive(ctx context.Context, actor *model.User, id int64, active bool) (*model.User, error)
	Deactivate(ctx context.Context, actor *model.User, id int64) (*model.User, error)
	SetAdmin(ctx context.Context, actor *model.User, id int64, admin bool) (*model.User, error)
	DeleteUser(ctx context.Context, actor *model.User, id int64) error
	ChangePassword(ctx context.Context, actor *model.User, id int64, newPassword string) error
}

// adminService 是 AdminService 接口的实现。
type adminService struct {
	userRepo     repository.UserRepository
	primaryAdmin string
	events       kafka.Publisher
}

// NewAdminService 创建一个新的 AdminService 实例，primaryAdmin 为受保护的主管理员用户名。
func NewAdminService(userRepo repository.UserRepository, primaryAdmin string, events kafka.Publisher) AdminService {
	if events == nil {
		events = kafka.Nop()
	}
	return &adminService{
		userRepo:     userRepo,
		primaryAdmin: primaryAdmin,
		events:       events,
	}
}

// requireAdmin 是管理操作的权限检查。
func requireAdmin(actor *model.User) error {
	if actor == nil || !actor.IsAdmin || !actor.IsActive {
		return fmt.Errorf("%w: administrator privileges required", apperr.ErrPermissionDenied)
	}
	return nil
}

func (s *adminService) isPrimary(u *model.User) bool {
	return s.primaryAdmin != "" && u.Username == s.primaryAdmin
}

func (s *adminService) publish(ctx context.Context, typ string, actor, user *model.User, fields map[string]string) {
	s.events.Publish(ctx, kafka.Event{Type: typ, UserID: user.ID, Username: user.Username, ActorID: actor.ID, Fields: fields})
}

// CreateUser 由管理员创建用户，可以直接授予管理员权限。
func (s *adminService) CreateUser(ctx context.Context, actor *model.User, in CreateUserInput) (*model.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	user, err := createUser(ctx, s.userRepo, in)
	if err != nil {
		return nil, err
	}
	log.Infof("[AdminService] 管理员 %s 创建了用户 %s", actor.Username, user.Username)
	s.publish(ctx, kafka.EventUserCreated, actor, user, map[string]string{"isAdmin": fmt.Sprint(user.IsAdmin)})
	return user, nil
}

// ListUsers 分页返回用户列表，按创建时间倒序。
func (s *adminService) ListUsers(ctx context.Context, actor *model.User, page, size int) (*UserListResponse, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)

	users, err := s.userRepo.FindAll(ctx)
	if err != nil {
		log.Errorf("[AdminService] 查询用户列表失败: %v", err)
		return nil, err
	}
	total := len(users)
	start := min((page-1)*size, total)
	end := min(start+size, total)

	content := make([]model.UserProfile, 0, end-start)
	for i := range users[start:end] {
		content = append(content, users[start+i].Profile())
	}
	return &UserListResponse{
		Content:       content,
		TotalElements: int64(total),
		TotalPages:    (total + size - 1) / size,
		Size:          size,
		Number:        page,
	}, nil
}

// UpdateUser 修改用户资料以及启用和管理员状态。
func (s *adminService) UpdateUser(ctx context.Context, actor *model.User, id int64, in UpdateUserInput) (*model.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	target, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkPrimaryAdmin(target, in.IsActive, in.IsAdmin); err != nil {
		return nil, err
	}

	update := model.UserUpdate{IsAdmin: in.IsAdmin, IsActive: in.IsActive}
	fields := map[string]string{}
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if email != "" {
			taken, err := emailTaken(ctx, s.userRepo, email, id)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, fmt.Errorf("%w: %s", apperr.ErrDuplicateEmail, email)
			}
		}
		update.Email = &email
		fields["email"] = email
	}
	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		update.FullName = &name
		fields["fullName"] = name
	}
	if in.IsActive != nil {
		fields["isActive"] = fmt.Sprint(*in.IsActive)
	}
	if in.IsAdmin != nil {
		fields["isAdmin"] = fmt.Sprint(*in.IsAdmin)
	}
	if update.Empty() {
		return target, nil
	}

	user, err := s.userRepo.Update(ctx, id, update)
	if err != nil {
		log.Errorf("[AdminService] 更新用户失败, id: %d, error: %v", id, err)
		return nil, err
	}
	s.publish(ctx, kafka.EventUserUpdated, actor, user, fields)
	return user, nil
}

// checkPrimaryAdmin 拒绝停用主管理员或撤销其管理员权限。
func (s *adminService) checkPrimaryAdmin(target *model.User, active, admin *bool) error {
	if !s.isPrimary(target) {
		return nil
	}
	if active != nil && !*active {
		return fmt.Errorf("%w: the primary administrator cannot be deactivated", apperr.ErrPermissionDenied)
	}
	if admin != nil && !*admin {
		return fmt.Errorf("%w: the primary administrator must remain an administrator", apperr.ErrPermissionDenied)
	}
	return nil
}

// SetActive 启用或停用用户。
func (s *adminService) SetActive(ctx context.Context, actor *model.User, id int64, active bool) (*model.User, error) {
	return s.UpdateUser(ctx, actor, id, UpdateUserInput{IsActive: &active})
}

// Deactivate 停用用户，停用后无法登录。
func (s *adminService) Deactivate(ctx context.Context, actor *model.User, id int64) (*model.User, error) {
	return s.SetActive(ctx, actor, id, false)
}

// SetAdmin 授予或撤销管理员权限。
func (s *adminService) SetAdmin(ctx context.Context, actor *model.User, id int64, admin bool) (*model.User, error) {
	return s.UpdateUser(ctx, actor, id, UpdateUserInput{IsAdmin: &admin})
}

// DeleteUser 删除用户，主管理员不可删除。
func (s *adminService) DeleteUser(ctx context.Context, actor *model.User, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	target, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if s.isPrimary(target) {
		return fmt.Errorf("%w: the primary administrator cannot be deleted", apperr.ErrPermissionDenied)
	}
	if err := s.userRepo.Delete(ctx, id); err != nil {
		log.Errorf("[AdminService] 删除用户失败, id: %d, error: %v", id, err)
		return err
	}
	log.Infof("[AdminService] 管理员 %s 删除了用户 %s", actor.Username, target.Username)
	s.publish(ctx, kafka.EventUserDeleted, actor, target, nil)
	return nil
}

// ChangePassword 重置用户密码，管理员可修改任何用户，普通用户只能修改自己。
func (s *adminService) ChangePassword(ctx context.Context, actor *model.User, id int64, newPassword string) error {
	if actor == nil || (actor.ID != id && requireAdmin(actor) != nil) {
		return fmt.Errorf("%w: cannot change another user's password", apperr.ErrPermissionDenied)
	}
	target, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := setPassword(ctx, s.userRepo, id, newPassword); err != nil {
		return err
	}
	s.publish(ctx, kafka.EventUserPasswordChanged, actor, target, nil)
	return nil
}

// EnsurePrimaryAdmin 在主管理员不存在时创建它，返回是否新建。
func EnsurePrimaryAdmin(ctx context.Context, repo repository.UserRepository, username, password, email string) (bool, error) {
	existing, err := repo.FindByUsername(ctx, username)
	if err == nil {
		if !existing.IsAdmin || !existing.IsActive {
			yes := true
			if _, err := repo.Update(ctx, existing.ID, model.UserUpdate{IsAdmin: &yes, IsActive: &yes}); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	_, err = createUser(ctx, repo, CreateUserInput{
		Username: username,
		Password: password,
		Email:    email,
		FullName: "Administrator",
		IsAdmin:  true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
