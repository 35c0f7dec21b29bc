package credentials

import (
	"errors"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/config"
	"ai-tutor-go/pkg/log"
)

// Store 保存启动时解析出的外部服务凭证。
type Store struct {
	LLMKey         Credential
	SpeechAccount  Credential
	speechResolved bool
}

// Overrides 是用户在命令行中提供的凭证，优先级最低。
type Overrides struct {
	LLMKey        string
	SpeechAccount string
}

// LLMResolver 的顺序：环境变量、配置文件、密钥文件、用户输入。
func LLMResolver(cfg config.LLMConfig, o Overrides) Resolver {
	return Resolver{
		Kind: "chat-completion api key",
		Sources: []Source{
			Env("OPENAI_API_KEY"),
			Static("config:llm.api_key", cfg.APIKey),
			File(cfg.APIKeyFile),
			Static("user-supplied", o.LLMKey),
		},
		Validate: NonEmpty,
	}
}

// SpeechResolver 的顺序：环境变量指向的文件、配置路径、内联 JSON、用户输入。
func SpeechResolver(cfg config.SpeechConfig, o Overrides) Resolver {
	return Resolver{
		Kind: "google service account",
		Sources: []Source{
			EnvFile("GOOGLE_APPLICATION_CREDENTIALS"),
			File(cfg.CredentialsPath),
			Env("GOOGLE_CREDENTIALS_JSON"),
			Static("config:speech.credentials_json", cfg.CredentialsJSON),
			Static("user-supplied", o.SpeechAccount),
		},
		Validate: ServiceAccountJSON,
	}
}

// Load 解析所有凭证。缺少补全服务密钥是致命错误；缺少语音凭证时只记录警告，
// 语音相关操作会在调用时返回 ErrConfiguration。
func Load(cfg *config.Config, o Overrides) (*Store, error) {
	llmKey, err := LLMResolver(cfg.LLM, o).Resolve()
	if err != nil {
		return nil, err
	}
	log.Infof("[Credentials] chat-completion api key loaded from %s", llmKey.Source)

	s := &Store{LLMKey: llmKey}
	account, err := SpeechResolver(cfg.Speech, o).Resolve()
	switch {
	case err == nil:
		s.SpeechAccount = account
		s.speechResolved = true
		log.Infof("[Credentials] google service account loaded from %s", account.Source)
	case errors.Is(err, apperr.ErrConfiguration):
		log.Warnf("[Credentials] speech disabled: %v", err)
	default:
		return nil, err
	}
	return s, nil
}

// HasSpeech 报告语音凭证是否可用。
func (s *Store) HasSpeech() bool {
	return s != nil && s.speechResolved
}
