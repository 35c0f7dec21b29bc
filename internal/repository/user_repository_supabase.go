package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/model"

	"github.com/supabase-community/supabase-go"
)

const usersTable = "users"

// supabaseUserRow 对应 PostgREST 返回的 users 行。
// PostgREST 返回的 TIMESTAMP 不带时区，所以时间字段按字符串读取再解析。
type supabaseUserRow struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	PasswordHash string  `json:"password_hash"`
	Email        *string `json:"email"`
	FullName     *string `json:"full_name"`
	IsAdmin      bool    `json:"is_admin"`
	IsActive     bool    `json:"is_active"`
	CreatedAt    *string `json:"created_at"`
	LastLogin    *string `json:"last_login"`
}

func (r supabaseUserRow) toModel() model.User {
	u := model.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		IsAdmin:      r.IsAdmin,
		IsActive:     r.IsActive,
	}
	// 可选字段缺失时退化为空字符串
	if r.Email != nil {
		u.Email = *r.Email
	}
	if r.FullName != nil {
		u.FullName = *r.FullName
	}
	if r.CreatedAt != nil {
		u.CreatedAt = parseTimestamp(*r.CreatedAt)
	}
	if r.LastLogin != nil {
		if t := parseTimestamp(*r.LastLogin); !t.IsZero() {
			u.LastLogin = &t
		}
	}
	return u
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// supabaseUserRepository 通过 Supabase PostgREST 接口访问 users 表。
type supabaseUserRepository struct {
	client *supabase.Client
}

// NewSupabaseUserRepository 创建 Supabase 实现的 UserRepository。
func NewSupabaseUserRepository(url, key string) (UserRepository, error) {
	if url == "" || key == "" {
		return nil, apperr.Configuration("supabase url and key are required")
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &supabaseUserRepository{client: client}, nil
}

type supabaseResult struct {
	rows []supabaseUserRow
	err  error
}

// exec 在独立的 goroutine 中执行 PostgREST 请求并等待 ctx。
// supabase-go 的请求不接受 context，超时后请求在后台结束，结果被丢弃。
func (r *supabaseUserRepository) exec(ctx context.Context, fn func(rows *[]supabaseUserRow) error) ([]supabaseUserRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan supabaseResult, 1)
	go func() {
		var rows []supabaseUserRow
		err := fn(&rows)
		done <- supabaseResult{rows: rows, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.rows, res.err
	}
}

func (r *supabaseUserRepository) Create(ctx context.Context, user *model.User) error {
	values := map[string]interface{}{
		"username":      user.Username,
		"password_hash": user.PasswordHash,
		"email":         user.Email,
		"full_name":     user.FullName,
		"is_admin":      user.IsAdmin,
		"is_active":     user.IsActive,
	}
	rows, err := r.exec(ctx, func(rows *[]supabaseUserRow) error {
		_, err := r.client.From(usersTable).
			Insert(values, false, "", "representation", "").
			ExecuteTo(rows)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", apperr.ErrDuplicateUsername, user.Username)
		}
		return remoteDBError(err)
	}
	if len(rows) > 0 {
		*user = rows[0].toModel()
	}
	return nil
}

func (r *supabaseUserRepository) findOne(ctx context.Context, column, value string) (*model.User, error) {
	rows, err := r.exec(ctx, func(rows *[]supabaseUserRow) error {
		_, err := r.client.From(usersTable).
			Select("*", "", false).
			Eq(column, value).
			ExecuteTo(rows)
		return err
	})
	if err != nil {
		return nil, remoteDBError(err)
	}
	if len(rows) == 0 {
		return nil, apperr.ErrUserNotFound
	}
	u := rows[0].toModel()
	return &u, nil
}

func (r *supabaseUserRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return r.findOne(ctx, "id", strconv.FormatInt(id, 10))
}

func (r *supabaseUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username", username)
}

func (r *supabaseUserRepository) FindAll(ctx context.Context) ([]model.User, error) {
	rows, err := r.exec(ctx, func(rows *[]supabaseUserRow) error {
		_, err := r.client.From(usersTable).
			Select("*", "", false).
			ExecuteTo(rows)
		return err
	})
	if err != nil {
		return nil, remoteDBError(err)
	}
	users := make([]model.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (r *supabaseUserRepository) Update(ctx context.Context, id int64, update model.UserUpdate) (*model.User, error) {
	if update.Empty() {
		return r.FindByID(ctx, id)
	}
	rows, err := r.exec(ctx, func(rows *[]supabaseUserRow) error {
		_, err := r.client.From(usersTable).
			Update(update.Columns(), "representation", "").
			Eq("id", strconv.FormatInt(id, 10)).
			ExecuteTo(rows)
		return err
	})
	if err != nil {
		return nil, remoteDBError(err)
	}
	if len(rows) == 0 {
		return nil, apperr.ErrUserNotFound
	}
	u := rows[0].toModel()
	return &u, nil
}

func (r *supabaseUserRepository) Delete(ctx context.Context, id int64) error {
	rows, err := r.exec(ctx, func(rows *[]supabaseUserRow) error {
		_, err := r.client.From(usersTable).
			Delete("representation", "").
			Eq("id", strconv.FormatInt(id, 10)).
			ExecuteTo(rows)
		return err
	})
	if err != nil {
		return remoteDBError(err)
	}
	if len(rows) == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

// isUniqueViolation 识别 PostgreSQL 唯一约束错误 23505。
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}

func remoteDBError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	msg := err.Error()
	reason := apperr.ReasonTransient
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "JWT"), strings.Contains(msg, "permission denied"):
		reason = apperr.ReasonAuth
	case strings.Contains(msg, "PGRST"):
		reason = apperr.ReasonRejected
	}
	return apperr.Remote("supabase", reason, 0, err)
}
