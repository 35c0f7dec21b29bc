// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/conversation"
	"ai-tutor-go/internal/middleware"
	"ai-tutor-go/internal/model"
	"ai-tutor-go/internal/service"

	"github.com/gin-gonic/gin"
)

// maxAudioUpload 是单个录音文件的大小上限。
const maxAudioUpload = 10 << 20

// ConversationHandler 处理辅导会话相关的请求。
type ConversationHandler struct {
	tutorService service.TutorService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(tutorService service.TutorService) *ConversationHandler {
	return &ConversationHandler{tutorService: tutorService}
}

// Levels 返回语言水平目录。
func (h *ConversationHandler) Levels(c *gin.Context) {
	ok(c, "success", model.Levels())
}

// Personas 返回导师角色目录。
func (h *ConversationHandler) Personas(c *gin.Context) {
	ok(c, "success", model.Personas())
}

// Topics 返回对话主题目录。
func (h *ConversationHandler) Topics(c *gin.Context) {
	ok(c, "success", model.Topics())
}

// SendRequest 是无会话单次回复的请求体，history 由客户端保存。
type SendRequest struct {
	Message  string              `json:"message" binding:"required"`
	Settings model.Settings      `json:"settings"`
	History  []conversation.Turn `json:"history"`
}

// Send 根据客户端提供的历史生成一次回复。
func (h *ConversationHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Send", err)
		return
	}
	reply, err := h.tutorService.Reply(c.Request.Context(), req.Settings, req.History, req.Message)
	if err != nil {
		fail(c, "Send", err)
		return
	}
	ok(c, "success", reply)
}

// StartSession 创建会话，请求体中的设置可选。
func (h *ConversationHandler) StartSession(c *gin.Context) {
	var settings model.Settings
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&settings); err != nil {
			badRequest(c, "StartSession", err)
			return
		}
	}
	user, _ := middleware.CurrentUser(c)
	session, err := h.tutorService.StartSession(c.Request.Context(), user, settings)
	if err != nil {
		fail(c, "StartSession", err)
		return
	}
	ok(c, "Session created", session.View())
}

// ListSessions 返回当前用户的会话。
func (h *ConversationHandler) ListSessions(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	sessions, err := h.tutorService.ListSessions(c.Request.Context(), user)
	if err != nil {
		fail(c, "ListSessions", err)
		return
	}
	views := make([]model.SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	ok(c, "success", views)
}

// GetSession 返回会话的设置与完整历史。
func (h *ConversationHandler) GetSession(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	session, err := h.tutorService.GetSession(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, "GetSession", err)
		return
	}
	ok(c, "success", session.View())
}

// UpdateSettings 修改会话设置。
func (h *ConversationHandler) UpdateSettings(c *gin.Context) {
	var patch model.Settings
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "UpdateSettings", err)
		return
	}
	user, _ := middleware.CurrentUser(c)
	session, err := h.tutorService.UpdateSettings(c.Request.Context(), user, c.Param("id"), patch)
	if err != nil {
		fail(c, "UpdateSettings", err)
		return
	}
	ok(c, "Settings updated", session.View())
}

// MessageRequest 是会话内文本消息的请求体。
type MessageRequest struct {
	Text  string `json:"text" binding:"required"`
	Speak bool   `json:"speak"`
}

// SendMessage 在会话中发送文本消息。
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SendMessage", err)
		return
	}
	user, _ := middleware.CurrentUser(c)
	ex, err := h.tutorService.SendText(c.Request.Context(), user, c.Param("id"), req.Text, service.SendOptions{Speak: req.Speak})
	if err != nil {
		fail(c, "SendMessage", err)
		return
	}
	ok(c, "success", ex)
}

// SendAudio 上传录音（multipart 字段 file），识别后作为消息发送。
func (h *ConversationHandler) SendAudio(c *gin.Context) {
	audio, encoding, err := readAudio(c)
	if err != nil {
		fail(c, "SendAudio", err)
		return
	}
	speak := c.DefaultPostForm("speak", "true") != "false"
	user, _ := middleware.CurrentUser(c)
	ex, err := h.tutorService.SendAudio(c.Request.Context(), user, c.Param("id"), audio, encoding, service.SendOptions{Speak: speak})
	if err != nil {
		fail(c, "SendAudio", err)
		return
	}
	ok(c, "success", ex)
}

// ResetHistory 清空会话历史。
func (h *ConversationHandler) ResetHistory(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	session, err := h.tutorService.ResetSession(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, "ResetHistory", err)
		return
	}
	ok(c, "History cleared", session.View())
}

// DeleteSession 删除会话。
func (h *ConversationHandler) DeleteSession(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	if err := h.tutorService.DeleteSession(c.Request.Context(), user, c.Param("id")); err != nil {
		fail(c, "DeleteSession", err)
		return
	}
	ok(c, "Session deleted", nil)
}

// readAudio 读取 multipart 中的 file 字段，编码取自 encoding 表单字段、Content-Type 或扩展名。
func readAudio(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAudioUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, "", apperr.Invalid("audio file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", apperr.Invalid("cannot read audio file")
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		return nil, "", apperr.Invalid("cannot read audio file")
	}

	encoding := c.PostForm("encoding")
	if encoding == "" {
		encoding = fh.Header.Get("Content-Type")
	}
	if encoding == "" || encoding == "application/octet-stream" {
		encoding = strings.TrimPrefix(filepath.Ext(fh.Filename), ".")
	}
	return audio, encoding, nil
}
