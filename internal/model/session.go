package model

import (
	"time"

	"ai-tutor-go/internal/conversation"
)

// Session 是一次辅导会话的上下文：设置与对话历史，每个操作显式传入。
type Session struct {
	ID        string                `json:"id"`
	UserID    int64                 `json:"userId"`
	Settings  Settings              `json:"settings"`
	History   *conversation.History `json:"history"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// SessionView 是返回给客户端的会话视图。
type SessionView struct {
	ID        string              `json:"id"`
	Settings  Settings            `json:"settings"`
	History   []conversation.Turn `json:"history"`
	CreatedAt LocalTime           `json:"createdAt"`
	UpdatedAt LocalTime           `json:"updatedAt"`
}

// View 返回会话的只读副本。
func (s *Session) View() SessionView {
	turns := []conversation.Turn{}
	if s.History != nil {
		turns = s.History.Turns()
	}
	return SessionView{
		ID:        s.ID,
		Settings:  s.Settings,
		History:   turns,
		CreatedAt: LocalTime(s.CreatedAt),
		UpdatedAt: LocalTime(s.UpdatedAt),
	}
}
