// Package apperr 定义了应用内统一的错误类别。
// 各层通过 fmt.Errorf("...: %w", err) 包装，处理器通过 errors.Is / errors.As 判断类别。
package apperr

import (
	"errors"
	"fmt"
)

// 顶层错误类别。
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrRemoteService     = errors.New("remote service error")
	ErrTranscription     = errors.New("transcription failed")
	ErrSynthesis         = errors.New("synthesis failed")
	ErrAuth              = errors.New("authentication failed")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// 认证失败的细分类别，均可被 errors.Is(err, ErrAuth) 识别。
var (
	ErrUnknownUser   = fmt.Errorf("%w: unknown user", ErrAuth)
	ErrUserInactive  = fmt.Errorf("%w: user is inactive", ErrAuth)
	ErrWrongPassword = fmt.Errorf("%w: wrong password", ErrAuth)
	ErrInvalidToken  = fmt.Errorf("%w: invalid or expired token", ErrAuth)
)

// NotFound 的细分类别。
var (
	ErrUserNotFound    = fmt.Errorf("%w: user", ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("%w: session", ErrNotFound)
)

// Reason 描述远程服务失败的原因。
type Reason string

const (
	ReasonAuth      Reason = "auth"
	ReasonRateLimit Reason = "rate_limit"
	ReasonQuota     Reason = "quota"
	ReasonTransient Reason = "transient"
	ReasonRejected  Reason = "rejected"
	ReasonMalformed Reason = "malformed"
)

// RemoteError 表示外部服务（补全、语音、数据库）调用失败。
type RemoteError struct {
	Provider string
	Reason   Reason
	Status   int
	Err      error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Reason)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is 让 errors.Is(err, ErrRemoteService) 对所有 RemoteError 成立。
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteService
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Remote 构造一个 RemoteError。
func Remote(provider string, reason Reason, status int, err error) error {
	return &RemoteError{Provider: provider, Reason: reason, Status: status, Err: err}
}

// RemoteReason 返回错误链中 RemoteError 的原因，不存在时返回空字符串。
func RemoteReason(err error) Reason {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// Configuration 包装一个配置错误。
func Configuration(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Invalid 包装一个参数错误。
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
