package repository

import (
	"context"
	"errors"
	"net"
	"time"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/model"
)

// timeoutUserRepository 给每次存储调用加上超时。只有超时本身转换为 transient 的 RemoteError，
// 其余错误（包括 apperr 的哨兵错误）原样返回。
type timeoutUserRepository struct {
	next    UserRepository
	timeout time.Duration
}

// WithTimeout 包装一个 UserRepository，d <= 0 时原样返回。
func WithTimeout(next UserRepository, d time.Duration) UserRepository {
	if d <= 0 {
		return next
	}
	return &timeoutUserRepository{next: next, timeout: d}
}

func (r *timeoutUserRepository) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := fn(ctx)
	if isTimeout(err) {
		return apperr.Remote("user-store", apperr.ReasonTransient, 0, err)
	}
	return err
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperr.ErrRemoteService) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (r *timeoutUserRepository) Create(ctx context.Context, user *model.User) error {
	return r.call(ctx, func(ctx context.Context) error { return r.next.Create(ctx, user) })
}

func (r *timeoutUserRepository) FindByID(ctx context.Context, id int64) (u *model.User, err error) {
	err = r.call(ctx, func(ctx context.Context) error {
		u, err = r.next.FindByID(ctx, id)
		return err
	})
	return u, err
}

func (r *timeoutUserRepository) FindByUsername(ctx context.Context, username string) (u *model.User, err error) {
	err = r.call(ctx, func(ctx context.Context) error {
		u, err = r.next.FindByUsername(ctx, username)
		return err
	})
	return u, err
}

func (r *timeoutUserRepository) FindAll(ctx context.Context) (users []model.User, err error) {
	err = r.call(ctx, func(ctx context.Context) error {
		users, err = r.next.FindAll(ctx)
		return err
	})
	return users, err
}

func (r *timeoutUserRepository) Update(ctx context.Context, id int64, update model.UserUpdate) (u *model.User, err error) {
	err = r.call(ctx, func(ctx context.Context) error {
		u, err = r.next.Update(ctx, id, update)
		return err
	})
	return u, err
}

func (r *timeoutUserRepository) Delete(ctx context.Context, id int64) error {
	return r.call(ctx, func(ctx context.Context) error { return r.next.Delete(ctx, id) })
}
