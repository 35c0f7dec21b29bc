package apperr

import (
	"errors"
	"net/http"
	"strings"
)

// HTTPStatus 将错误类别映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateUsername), errors.Is(err, ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, ErrTranscription), errors.Is(err, ErrSynthesis):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRemoteService):
		switch RemoteReason(err) {
		case ReasonRateLimit, ReasonQuota:
			return http.StatusTooManyRequests
		case ReasonTransient:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// Message 返回可以直接展示给用户的错误信息。
// 认证失败统一返回同一句话，不泄露用户名是否存在。
func Message(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidToken):
		return "Session expired, please sign in again"
	case errors.Is(err, ErrUserInactive):
		return "This account has been deactivated"
	case errors.Is(err, ErrAuth):
		return "Invalid username or password"
	case errors.Is(err, ErrInvalidArgument):
		return err.Error()
	case errors.Is(err, ErrPermissionDenied):
		return "You do not have permission to perform this action"
	case errors.Is(err, ErrUserNotFound):
		return "User not found"
	case errors.Is(err, ErrSessionNotFound):
		return "Session not found"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.Is(err, ErrDuplicateUsername):
		return "Username already exists"
	case errors.Is(err, ErrDuplicateEmail):
		return "Email already registered"
	case errors.Is(err, ErrTranscription):
		return "Could not understand the audio, please try again"
	case errors.Is(err, ErrSynthesis):
		return "Could not generate speech for this reply"
	case errors.Is(err, ErrRemoteService):
		service := serviceLabel(err)
		switch RemoteReason(err) {
		case ReasonAuth:
			return service + " rejected our credentials"
		case ReasonQuota:
			return service + " quota is exhausted"
		case ReasonRateLimit:
			return service + " is busy, please retry shortly"
		case ReasonTransient:
			return service + " is temporarily unavailable"
		default:
			return service + " could not handle this request"
		}
	case errors.Is(err, ErrConfiguration):
		return "Service is not configured correctly"
	default:
		return "Internal server error"
	}
}

// serviceLabel 按 RemoteError 的 Provider 给出面向用户的服务名称。
func serviceLabel(err error) string {
	var re *RemoteError
	if !errors.As(err, &re) {
		return "The AI service"
	}
	switch {
	case re.Provider == "user-store" || re.Provider == "supabase":
		return "The user database"
	case strings.HasPrefix(re.Provider, "google-"):
		return "The speech service"
	default:
		return "The AI service"
	}
}
