package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAuthKindsAreDistinct(t *testing.T) {
	kinds := []error{ErrUnknownUser, ErrUserInactive, ErrWrongPassword}
	for i, a := range kinds {
		if !errors.Is(a, ErrAuth) {
			t.Errorf("%v should be an auth error", a)
		}
		for j, b := range kinds {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v should not match %v", a, b)
			}
		}
	}
}

func TestRemoteErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("generate: %w", Remote("openai", ReasonRateLimit, 429, errors.New("slow down")))
	if !errors.Is(err, ErrRemoteService) {
		t.Fatal("remote error should match ErrRemoteService")
	}
	if got := RemoteReason(err); got != ReasonRateLimit {
		t.Errorf("got reason %q, want %q", got, ReasonRateLimit)
	}
	if got := RemoteReason(errors.New("plain")); got != "" {
		t.Errorf("got reason %q for plain error, want empty", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Invalid("username too short"), http.StatusBadRequest},
		{ErrWrongPassword, http.StatusUnauthorized},
		{fmt.Errorf("delete: %w", ErrPermissionDenied), http.StatusForbidden},
		{ErrSessionNotFound, http.StatusNotFound},
		{ErrDuplicateUsername, http.StatusConflict},
		{ErrTranscription, http.StatusUnprocessableEntity},
		{Remote("openai", ReasonQuota, 429, nil), http.StatusTooManyRequests},
		{Remote("openai", ReasonTransient, 503, nil), http.StatusServiceUnavailable},
		{Remote("openai", ReasonAuth, 401, nil), http.StatusBadGateway},
		{Configuration("missing key"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestMessageHidesAuthDetail(t *testing.T) {
	if Message(ErrUnknownUser) != Message(ErrWrongPassword) {
		t.Error("unknown user and wrong password should share one message")
	}
	if Message(ErrUserInactive) == Message(ErrWrongPassword) {
		t.Error("inactive users should get their own message")
	}
}

func TestMessageNamesRemoteService(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{Remote("chat-completion", ReasonTransient, 503, nil), "The AI service is temporarily unavailable"},
		{Remote("user-store", ReasonTransient, 0, nil), "The user database is temporarily unavailable"},
		{Remote("supabase", ReasonAuth, 0, nil), "The user database rejected our credentials"},
		{Remote("google-text-to-speech", ReasonRateLimit, 0, nil), "The speech service is busy, please retry shortly"},
		{fmt.Errorf("wrapped: %w", Remote("supabase", ReasonRejected, 0, nil)), "The user database could not handle this request"},
	}
	for _, tc := range cases {
		if got := Message(tc.err); got != tc.want {
			t.Errorf("Message(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
