package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
		Generation: config.LLMGenerationConfig{
			Temperature: 0.7,
			MaxTokens:   500,
		},
	})
}

func TestChatSendsRequestAndReturnsContent(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("got path %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("got auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  Hello there!  "}}]}`)
	})

	msgs := []Message{{Role: "system", Content: "be nice"}, {Role: "user", Content: "hi"}}
	reply, err := client.Chat(context.Background(), msgs, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "Hello there!" {
		t.Errorf("got reply %q, want trimmed content", reply)
	}
	if got.Model != "gpt-4o-mini" || got.Stream {
		t.Errorf("got model %q stream %v", got.Model, got.Stream)
	}
	if got.MaxTokens == nil || *got.MaxTokens != 500 {
		t.Errorf("max_tokens not taken from config: %v", got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("temperature not taken from config: %v", got.Temperature)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "hi" {
		t.Errorf("got messages %+v", got.Messages)
	}
}

func TestChatClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   apperr.Reason
	}{
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, apperr.ReasonAuth},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down","code":"rate_limit_exceeded"}}`, apperr.ReasonRateLimit},
		{http.StatusTooManyRequests, `{"error":{"message":"no credit","type":"insufficient_quota","code":"insufficient_quota"}}`, apperr.ReasonQuota},
		{http.StatusServiceUnavailable, `upstream down`, apperr.ReasonTransient},
		{http.StatusBadRequest, `{"error":{"message":"bad model"}}`, apperr.ReasonRejected},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			fmt.Fprint(w, tc.body)
		})
		_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
		if !errors.Is(err, apperr.ErrRemoteService) {
			t.Errorf("status %d: got %v, want remote service error", tc.status, err)
			continue
		}
		if got := apperr.RemoteReason(err); got != tc.want {
			t.Errorf("status %d: got reason %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestChatEmptyChoicesIsMalformed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})
	_, err := client.Chat(context.Background(), nil, nil)
	if got := apperr.RemoteReason(err); got != apperr.ReasonMalformed {
		t.Errorf("got reason %q, want malformed", got)
	}
}

func TestChatTimeoutIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// 读完请求体后服务器才能感知客户端断开
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Chat(ctx, nil, nil)
	if got := apperr.RemoteReason(err); got != apperr.ReasonTransient {
		t.Errorf("got reason %q (%v), want transient", got, err)
	}
}

type bufferWriter struct {
	chunks []string
}

func (b *bufferWriter) WriteMessage(_ int, data []byte) error {
	b.chunks = append(b.chunks, string(data))
	return nil
}

func TestStreamChatMessages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("stream flag should be set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	w := &bufferWriter{}
	if err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, w); err != nil {
		t.Fatalf("StreamChatMessages: %v", err)
	}
	if got := strings.Join(w.chunks, ""); got != "Hello" {
		t.Errorf("got %q, want Hello", got)
	}
}
