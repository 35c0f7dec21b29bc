// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/model"
	"ai-tutor-go/internal/repository"
	"ai-tutor-go/pkg/hash"
	"ai-tutor-go/pkg/kafka"
	"ai-tutor-go/pkg/log"
	"ai-tutor-go/pkg/token"
)

const minPasswordLength = 6

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{3,50}$`)

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	Register(ctx context.Context, in CreateUserInput) (*model.User, error)
	GetProfile(ctx context.Context, userID int64) (*model.User, error)
	Logout(ctx context.Context, tokenString string) error
	IsRevoked(ctx context.Context, tokenString string) bool
	RefreshToken(ctx context.Context, refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
	ChangeOwnPassword(ctx context.Context, user *model.User, oldPassword, newPassword string) error
}

// LoginResult 是登录成功后的返回内容。
type LoginResult struct {
	User         *model.User
	AccessToken  string
	RefreshToken string
}

// CreateUserInput 描述新建用户所需的字段。
type CreateUserInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	IsAdmin  bool   `json:"isAdmin"`
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	blacklist  repository.TokenBlacklist
	jwtManager *token.JWTManager
	events     kafka.Publisher
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, blacklist repository.TokenBlacklist, jwtManager *token.JWTManager, events kafka.Publisher) UserService {
	if events == nil {
		events = kafka.Nop()
	}
	return &userService{
		userRepo:   userRepo,
		blacklist:  blacklist,
		jwtManager: jwtManager,
		events:     events,
	}
}

// Authenticate 校验用户名和密码，用户不存在、已停用、密码错误分别返回不同的错误。
func (s *userService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// 用户不存在时同样执行一次哈希比对
			hash.BurnCompare(password)
			return nil, apperr.ErrUnknownUser
		}
		return nil, err
	}

	ok, needsRehash := hash.Verify(password, user.PasswordHash)
	if !ok {
		return nil, apperr.ErrWrongPassword
	}
	if !user.IsActive {
		return nil, apperr.ErrUserInactive
	}

	now := time.Now()
	update := model.UserUpdate{LastLogin: &now}
	if needsRehash {
		if h, err := hash.HashPassword(password); err == nil {
			update.PasswordHash = &h
			log.Infof("[UserService] 用户 %s 的旧密码哈希已升级为 bcrypt", user.Username)
		}
	}
	updated, err := s.userRepo.Update(ctx, user.ID, update)
	if err != nil {
		// 更新登录时间失败不影响认证结果
		log.Warnf("[UserService] 更新登录时间失败, username: %s, error: %v", user.Username, err)
		return user, nil
	}
	return updated, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role())
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role())
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, kafka.Event{Type: kafka.EventUserLogin, UserID: user.ID, Username: user.Username})
	return &LoginResult{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Register 处理自助注册，新用户总是普通用户。
func (s *userService) Register(ctx context.Context, in CreateUserInput) (*model.User, error) {
	in.IsAdmin = false
	user, err := createUser(ctx, s.userRepo, in)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, kafka.Event{Type: kafka.EventUserCreated, UserID: user.ID, Username: user.Username, ActorID: user.ID})
	return user, nil
}

// GetProfile 根据用户 ID 获取用户详细信息。
func (s *userService) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	return s.userRepo.FindByID(ctx, userID)
}

// Logout 将 access token 加入黑名单直到其过期。
func (s *userService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	return s.blacklist.Add(ctx, tokenString, claims.Remaining())
}

// IsRevoked 检查 token 是否已登出。黑名单不可用时视为未登出。
func (s *userService) IsRevoked(ctx context.Context, tokenString string) bool {
	revoked, err := s.blacklist.Contains(ctx, tokenString)
	if err != nil {
		log.Warnf("[UserService] 查询 token 黑名单失败: %v", err)
		return false
	}
	return revoked
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
func (s *userService) RefreshToken(ctx context.Context, refreshTokenString string) (newAccessToken, newRefreshToken string, err error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshTokenString)
	if err != nil {
		return "", "", err
	}
	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", "", apperr.ErrUnknownUser
		}
		return "", "", err
	}
	if !user.IsActive {
		return "", "", apperr.ErrUserInactive
	}

	newAccessToken, err = s.jwtManager.GenerateToken(user.ID, user.Username, user.Role())
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err = s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role())
	if err != nil {
		return "", "", err
	}
	return newAccessToken, newRefreshToken, nil
}

// ChangeOwnPassword 修改当前用户的密码，需要提供旧密码。
func (s *userService) ChangeOwnPassword(ctx context.Context, user *model.User, oldPassword, newPassword string) error {
	current, err := s.userRepo.FindByID(ctx, user.ID)
	if err != nil {
		return err
	}
	if ok, _ := hash.Verify(oldPassword, current.PasswordHash); !ok {
		return apperr.ErrWrongPassword
	}
	if err := setPassword(ctx, s.userRepo, current.ID, newPassword); err != nil {
		return err
	}
	s.events.Publish(ctx, kafka.Event{Type: kafka.EventUserPasswordChanged, UserID: current.ID, Username: current.Username, ActorID: current.ID})
	return nil
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return apperr.Invalid("username must be 3-50 characters of letters, digits, '_', '.' or '-'")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperr.Invalid("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

// createUser 校验输入、哈希密码并写入存储，新用户默认处于启用状态。
func createUser(ctx context.Context, repo repository.UserRepository, in CreateUserInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	if _, err := repo.FindByUsername(ctx, in.Username); err == nil {
		return nil, fmt.Errorf("%w: %s", apperr.ErrDuplicateUsername, in.Username)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if in.Email != "" {
		taken, err := emailTaken(ctx, repo, in.Email, 0)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%w: %s", apperr.ErrDuplicateEmail, in.Email)
		}
	}

	hashedPassword, err := hash.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Username:     in.Username,
		PasswordHash: hashedPassword,
		Email:        in.Email,
		FullName:     in.FullName,
		IsAdmin:      in.IsAdmin,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	// 并发注册时由存储的唯一约束兜底，返回 ErrDuplicateUsername
	if err := repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// emailTaken 检查邮箱是否已被除 exceptID 外的用户使用。
func emailTaken(ctx context.Context, repo repository.UserRepository, email string, exceptID int64) (bool, error) {
	users, err := repo.FindAll(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u.ID != exceptID && strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func setPassword(ctx context.Context, repo repository.UserRepository, id int64, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	h, err := hash.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = repo.Update(ctx, id, model.UserUpdate{PasswordHash: &h})
	return err
}
