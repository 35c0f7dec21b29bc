// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/conversation"
	"ai-tutor-go/internal/model"
	"ai-tutor-go/internal/repository"
	"ai-tutor-go/internal/tutor"
	"ai-tutor-go/pkg/llm"
	"ai-tutor-go/pkg/log"
	"ai-tutor-go/pkg/speech"
	"ai-tutor-go/pkg/storage"

	"github.com/google/uuid"
)

// SendOptions 控制一次对话交互。
type SendOptions struct {
	// Speak 为 true 时合成助手回复的语音。
	Speak bool
}

// Exchange 是一次交互的结果。
type Exchange struct {
	Transcript    string            `json:"transcript,omitempty"`
	UserTurn      conversation.Turn `json:"userTurn"`
	AssistantTurn conversation.Turn `json:"assistantTurn"`
	Correction    string            `json:"correction,omitempty"`
	Audio         []byte            `json:"audio,omitempty"`
	AudioURL      string            `json:"audioUrl,omitempty"`
	AudioError    string            `json:"audioError,omitempty"`
}

// TutorService 编排一次辅导交互：识别、对话补全、语音合成，并维护会话历史。
type TutorService interface {
	StartSession(ctx context.Context, user *model.User, settings model.Settings) (*model.Session, error)
	ListSessions(ctx context.Context, user *model.User) ([]*model.Session, error)
	GetSession(ctx context.Context, user *model.User, id string) (*model.Session, error)
	UpdateSettings(ctx context.Context, user *model.User, id string, patch model.Settings) (*model.Session, error)
	ResetSession(ctx context.Context, user *model.User, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, user *model.User, id string) error

	SendText(ctx context.Context, user *model.User, id, text string, opts SendOptions) (*Exchange, error)
	SendAudio(ctx context.Context, user *model.User, id string, audio []byte, encoding string, opts SendOptions) (*Exchange, error)
	StreamText(ctx context.Context, user *model.User, id, text string, w llm.MessageWriter) (*Exchange, error)
	Reply(ctx context.Context, settings model.Settings, history []conversation.Turn, text string) (tutor.Reply, error)

	Transcribe(ctx context.Context, audio []byte, encoding, language string) (speech.Transcript, error)
	Synthesize(ctx context.Context, text, voiceID string) (audio []byte, url string, err error)
}

type tutorService struct {
	sessions     repository.SessionRepository
	completer    *tutor.Completer
	speech       speech.Client
	cache        storage.AudioCache
	defaultVoice string

	// 同一进程内串行化对同一会话的修改，按会话 ID 哈希到固定数量的锁
	locks [sessionLockStripes]sync.Mutex
}

const sessionLockStripes = 64

// NewTutorService 创建 TutorService，cache 可以为 nil。
func NewTutorService(sessions repository.SessionRepository, completer *tutor.Completer, speechClient speech.Client, cache storage.AudioCache, defaultVoice string) TutorService {
	if speechClient == nil {
		speechClient = speech.Disabled()
	}
	return &tutorService{
		sessions:     sessions,
		completer:    completer,
		speech:       speechClient,
		cache:        cache,
		defaultVoice: defaultVoice,
	}
}

func lockStripe(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % sessionLockStripes)
}

func (s *tutorService) lock(id string) func() {
	mu := &s.locks[lockStripe(id)]
	mu.Lock()
	return mu.Unlock
}

// StartSession 以默认设置为基础创建新会话。
func (s *tutorService) StartSession(ctx context.Context, user *model.User, settings model.Settings) (*model.Session, error) {
	normalized, err := model.DefaultSettings(s.defaultVoice).Merge(settings).Normalize()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	session := &model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Settings:  normalized,
		History:   conversation.NewHistory(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		log.Errorf("[TutorService] 保存会话失败, user: %s, error: %v", user.Username, err)
		return nil, err
	}
	log.Infof("[TutorService] 用户 %s 创建会话 %s", user.Username, session.ID)
	return session, nil
}

// ListSessions 返回用户的所有会话，最近更新的在前。
func (s *tutorService) ListSessions(ctx context.Context, user *model.User) ([]*model.Session, error) {
	return s.sessions.ListByUser(ctx, user.ID)
}

// GetSession 返回会话，不属于该用户的会话返回 ErrPermissionDenied。
func (s *tutorService) GetSession(ctx context.Context, user *model.User, id string) (*model.Session, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.UserID != user.ID {
		return nil, fmt.Errorf("%w: session belongs to another user", apperr.ErrPermissionDenied)
	}
	return session, nil
}

// UpdateSettings 修改会话设置，历史保持不变。
func (s *tutorService) UpdateSettings(ctx context.Context, user *model.User, id string, patch model.Settings) (*model.Session, error) {
	defer s.lock(id)()
	session, err := s.GetSession(ctx, user, id)
	if err != nil {
		return nil, err
	}
	normalized, err := session.Settings.Merge(patch).Normalize()
	if err != nil {
		return nil, err
	}
	session.Settings = normalized
	session.UpdatedAt = time.Now()
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ResetSession 清空会话历史。
func (s *tutorService) ResetSession(ctx context.Context, user *model.User, id string) (*model.Session, error) {
	defer s.lock(id)()
	session, err := s.GetSession(ctx, user, id)
	if err != nil {
		return nil, err
	}
	session.History.Reset()
	session.UpdatedAt = time.Now()
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession 删除会话。
func (s *tutorService) DeleteSession(ctx context.Context, user *model.User, id string) error {
	defer s.lock(id)()
	if _, err := s.GetSession(ctx, user, id); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, id)
}

// SendText 发送一条文本消息。补全失败时历史不变；语音合成失败不影响文本结果。
func (s *tutorService) SendText(ctx context.Context, user *model.User, id, text string, opts SendOptions) (*Exchange, error) {
	defer s.lock(id)()
	session, err := s.GetSession(ctx, user, id)
	if err != nil {
		return nil, err
	}
	ex, err := s.exchange(ctx, session, text, nil)
	if err != nil {
		return nil, err
	}
	if opts.Speak {
		s.speak(ctx, session.Settings.Voice, ex)
	}
	return ex, nil
}

// SendAudio 先识别语音，再以识别结果发送消息。
func (s *tutorService) SendAudio(ctx context.Context, user *model.User, id string, audio []byte, encoding string, opts SendOptions) (*Exchange, error) {
	defer s.lock(id)()
	session, err := s.GetSession(ctx, user, id)
	if err != nil {
		return nil, err
	}
	transcript, err := s.speech.Transcribe(ctx, audio, speech.TranscribeOptions{
		Encoding:     encoding,
		LanguageCode: session.Settings.Language,
	})
	if err != nil {
		log.Warnf("[TutorService] 语音识别失败, session: %s, error: %v", id, err)
		return nil, err
	}
	ex, err := s.exchange(ctx, session, transcript.Text, nil)
	if err != nil {
		return nil, err
	}
	ex.Transcript = transcript.Text
	if opts.Speak {
		s.speak(ctx, session.Settings.Voice, ex)
	}
	return ex, nil
}

// StreamText 与 SendText 相同但不合成语音，回复分块写入 w，流结束后才写入历史。
func (s *tutorService) StreamText(ctx context.Context, user *model.User, id, text string, w llm.MessageWriter) (*Exchange, error) {
	defer s.lock(id)()
	session, err := s.GetSession(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return s.exchange(ctx, session, text, w)
}

// exchange 取历史窗口、请求补全，成功后依次追加用户与助手两轮并保存。
func (s *tutorService) exchange(ctx context.Context, session *model.Session, text string, w llm.MessageWriter) (*Exchange, error) {
	text = strings.TrimSpace(text)
	window := session.History.Window(s.completer.Window())

	var (
		reply tutor.Reply
		err   error
	)
	if w != nil {
		reply, err = s.completer.Stream(ctx, window, session.Settings, text, w)
	} else {
		reply, err = s.completer.Generate(ctx, window, session.Settings, text)
	}
	if err != nil {
		log.Warnf("[TutorService] 对话补全失败, session: %s, error: %v", session.ID, err)
		return nil, err
	}

	userTurn := conversation.NewTurn(conversation.RoleUser, text)
	assistantTurn := conversation.NewTurn(conversation.RoleAssistant, reply.Conversation)
	session.History.Append(userTurn)
	session.History.Append(assistantTurn)
	session.UpdatedAt = time.Now()
	if err := s.sessions.Save(ctx, session); err != nil {
		log.Errorf("[TutorService] 保存会话历史失败, session: %s, error: %v", session.ID, err)
		return nil, err
	}
	return &Exchange{
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
		Correction:    reply.Correction,
	}, nil
}

func (s *tutorService) speak(ctx context.Context, voiceID string, ex *Exchange) {
	audio, url, err := s.Synthesize(ctx, ex.AssistantTurn.Text, voiceID)
	if err != nil {
		log.Warnf("[TutorService] 语音合成失败, voice: %s, error: %v", voiceID, err)
		ex.AudioError = apperr.Message(err)
		return
	}
	ex.Audio = audio
	ex.AudioURL = url
}

// Reply 是无会话的单次回复，history 由调用方提供。
func (s *tutorService) Reply(ctx context.Context, settings model.Settings, history []conversation.Turn, text string) (tutor.Reply, error) {
	normalized, err := model.DefaultSettings(s.defaultVoice).Merge(settings).Normalize()
	if err != nil {
		return tutor.Reply{}, err
	}
	if err := conversation.Validate(history); err != nil {
		return tutor.Reply{}, err
	}
	window := conversation.NewHistory(history...).Window(s.completer.Window())
	return s.completer.Generate(ctx, window, normalized, text)
}

// Transcribe 识别一段音频，language 为空时使用配置的默认语言。
func (s *tutorService) Transcribe(ctx context.Context, audio []byte, encoding, language string) (speech.Transcript, error) {
	return s.speech.Transcribe(ctx, audio, speech.TranscribeOptions{Encoding: encoding, LanguageCode: language})
}

// Synthesize 合成语音，启用缓存时先查缓存，未命中则合成后写入缓存。
func (s *tutorService) Synthesize(ctx context.Context, text, voiceID string) ([]byte, string, error) {
	if voiceID == "" {
		voiceID = s.defaultVoice
	}
	if s.cache == nil {
		audio, err := s.speech.Synthesize(ctx, text, voiceID)
		return audio, "", err
	}

	if audio, ok := s.cache.Get(ctx, voiceID, text); ok {
		return audio, s.presign(ctx, voiceID, text), nil
	}
	audio, err := s.speech.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, "", err
	}
	if err := s.cache.Put(ctx, voiceID, text, audio); err != nil {
		log.Warnf("[TutorService] 写入语音缓存失败: %v", err)
		return audio, "", nil
	}
	return audio, s.presign(ctx, voiceID, text), nil
}

func (s *tutorService) presign(ctx context.Context, voiceID, text string) string {
	url, err := s.cache.PresignedURL(ctx, voiceID, text)
	if err != nil {
		log.Warnf("[TutorService] 生成语音预签名 URL 失败: %v", err)
		return ""
	}
	return url
}
