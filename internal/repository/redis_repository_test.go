package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/conversation"
	"ai-tutor-go/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisSessionRepository(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	repo := NewRedisSessionRepository(rdb, time.Hour)
	now := time.Now().Truncate(time.Second)

	s1 := &model.Session{ID: "s1", UserID: 7, Settings: model.DefaultSettings(""), History: conversation.NewHistory(), CreatedAt: now, UpdatedAt: now}
	s1.History.Append(conversation.NewTurn(conversation.RoleUser, "bonjour"))
	s1.History.Append(conversation.NewTurn(conversation.RoleAssistant, "Bonjour !"))
	if err := repo.Save(ctx, s1); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != 7 || got.History.Len() != 2 || got.Settings != s1.Settings {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if turns := got.History.Turns(); turns[1].Role != conversation.RoleAssistant || turns[1].Text != "Bonjour !" {
		t.Errorf("unexpected turns %+v", turns)
	}
	if ttl := mr.TTL(sessionKey("s1")); ttl != time.Hour {
		t.Errorf("session ttl = %v, want 1h", ttl)
	}

	// s1 过期而 s2 仍然有效，列表只返回 s2 并清理索引
	mr.FastForward(30 * time.Minute)
	s2 := &model.Session{ID: "s2", UserID: 7, History: conversation.NewHistory(), CreatedAt: now, UpdatedAt: now.Add(time.Minute)}
	if err := repo.Save(ctx, s2); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(45 * time.Minute)

	if _, err := repo.Get(ctx, "s1"); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Errorf("expired session: got %v, want session not found", err)
	}
	list, err := repo.ListByUser(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "s2" {
		t.Errorf("got %d sessions, want only s2", len(list))
	}
	if ok, _ := mr.SIsMember(userSessionsKey(7), "s1"); ok {
		t.Error("expired session id should be removed from the user index")
	}

	if err := repo.Delete(ctx, "s2"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, "s2"); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Errorf("second delete: got %v, want session not found", err)
	}
	if mr.Exists(sessionKey("s2")) {
		t.Error("session key still present after delete")
	}
}

func TestRedisTokenBlacklist(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	bl := NewRedisTokenBlacklist(rdb)

	if err := bl.Add(ctx, "tok", time.Minute); err != nil {
		t.Fatal(err)
	}
	if ok, err := bl.Contains(ctx, "tok"); err != nil || !ok {
		t.Fatalf("Contains = %v, %v", ok, err)
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := bl.Contains(ctx, "tok"); ok {
		t.Error("blacklist entry should expire with the token")
	}
}
