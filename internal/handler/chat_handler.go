// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/model"
	"ai-tutor-go/internal/service"
	"ai-tutor-go/pkg/log"
	"ai-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理 WebSocket 聊天连接，助手回复以分块形式流式下发。
type ChatHandler struct {
	tutorService service.TutorService
	userService  service.UserService
	jwtManager   *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(tutorService service.TutorService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		tutorService: tutorService,
		userService:  userService,
		jwtManager:   jwtManager,
	}
}

// inboundFrame 是客户端发送的 JSON 帧，纯文本帧视为 message。
type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func parseFrame(message []byte) inboundFrame {
	trimmed := strings.TrimSpace(string(message))
	if strings.HasPrefix(trimmed, "{") {
		var f inboundFrame
		if err := json.Unmarshal([]byte(trimmed), &f); err == nil && f.Type != "" {
			return f
		}
	}
	return inboundFrame{Type: "message", Text: trimmed}
}

// wsConn 串行化对连接的写入，gorilla/websocket 不支持并发写。
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

// chunkWriter 将原始分块包装成 {"chunk":"..."}，满足 llm.MessageWriter。
type chunkWriter struct{ ws *wsConn }

func (w chunkWriter) WriteMessage(_ int, data []byte) error {
	return w.ws.writeJSON(gin.H{"chunk": string(data)})
}

func event(typ string, fields gin.H) gin.H {
	now := time.Now()
	out := gin.H{"type": typ, "timestamp": now.UnixMilli(), "date": now.Format("2006-01-02T15:04:05")}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Handle 处理一个传入的 WebSocket 连接：/chat/:token?session=<id>，未指定会话时新建。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil || h.userService.IsRevoked(c.Request.Context(), c.Param("token")) {
		fail(c, "Chat", apperr.ErrInvalidToken)
		return
	}
	user, err := h.userService.GetProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, "Chat", err)
		return
	}
	if !user.IsActive {
		fail(c, "Chat", apperr.ErrUserInactive)
		return
	}

	sessionID := c.Query("session")
	if sessionID != "" {
		if _, err := h.tutorService.GetSession(c.Request.Context(), user, sessionID); err != nil {
			fail(c, "Chat", err)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	if sessionID == "" {
		session, err := h.tutorService.StartSession(c.Request.Context(), user, model.Settings{})
		if err != nil {
			_ = ws.writeJSON(event("error", gin.H{"error": apperr.Message(err)}))
			return
		}
		sessionID = session.ID
	}
	_ = ws.writeJSON(event("session", gin.H{"sessionId": sessionID}))
	log.Infof("WebSocket 连接已建立，用户: %s, 会话: %s", user.Username, sessionID)

	h.serve(c.Request.Context(), ws, user, sessionID)
}

// serve 读取客户端帧；同一时刻只处理一条消息，stop 帧取消正在进行的回复。
func (h *ChatHandler) serve(ctx context.Context, ws *wsConn, user *model.User, sessionID string) {
	var (
		mu     sync.Mutex
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		if cancel != nil {
			cancel()
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		_, message, err := ws.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}
		frame := parseFrame(message)

		switch frame.Type {
		case "stop":
			mu.Lock()
			if cancel != nil {
				cancel()
			}
			mu.Unlock()
			_ = ws.writeJSON(event("stop", gin.H{"message": "Response stopped"}))
		case "reset":
			if _, err := h.tutorService.ResetSession(ctx, user, sessionID); err != nil {
				_ = ws.writeJSON(event("error", gin.H{"error": apperr.Message(err)}))
				continue
			}
			_ = ws.writeJSON(event("reset", nil))
		case "message":
			// cancel 只在读循环中设置，回复结束时由 goroutine 清空
			mu.Lock()
			busy := cancel != nil
			mu.Unlock()
			if busy {
				_ = ws.writeJSON(event("error", gin.H{"error": "A reply is still in progress"}))
				continue
			}

			streamCtx, streamCancel := context.WithCancel(ctx)
			mu.Lock()
			cancel = streamCancel
			mu.Unlock()

			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				defer streamCancel()
				defer func() {
					mu.Lock()
					cancel = nil
					mu.Unlock()
				}()
				h.reply(streamCtx, ws, user, sessionID, text)
			}(frame.Text)
		default:
			_ = ws.writeJSON(event("error", gin.H{"error": "Unknown frame type"}))
		}
	}
}

func (h *ChatHandler) reply(ctx context.Context, ws *wsConn, user *model.User, sessionID, text string) {
	ex, err := h.tutorService.StreamText(ctx, user, sessionID, text, chunkWriter{ws: ws})
	if err != nil {
		if ctx.Err() != nil {
			// 被 stop 取消，历史未写入
			return
		}
		log.Errorf("处理流式响应失败: %v", err)
		_ = ws.writeJSON(event("error", gin.H{"error": apperr.Message(err)}))
		return
	}
	_ = ws.writeJSON(event("completion", gin.H{
		"status":       "finished",
		"conversation": ex.AssistantTurn.Text,
		"correction":   ex.Correction,
	}))
}
