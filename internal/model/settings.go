package model

import (
	"strings"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/pkg/speech"
)

// Level 表示学习者的语言水平。
type Level struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Persona 表示导师的教学风格。Style 会被写入系统提示词。
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Style       string `json:"-"`
}

// Topic 表示对话主题。
type Topic struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var levels = []Level{
	{ID: "beginner", Name: "Beginner (A1-A2)", Description: "Simple vocabulary, short sentences"},
	{ID: "intermediate", Name: "Intermediate (B1-B2)", Description: "Broader vocabulary, complex sentences"},
	{ID: "advanced", Name: "Advanced (C1-C2)", Description: "Sophisticated language, nuanced discussions"},
}

var personas = []Persona{
	{
		ID: "friendly", Name: "Friendly", Label: "Friendly & Encouraging",
		Description: "Patient, supportive, celebrates your efforts",
		Style:       "Be patient and supportive, show enthusiasm and celebrate the student's progress.",
	},
	{
		ID: "professional", Name: "Professional", Label: "Professional & Direct",
		Description: "Focused on accuracy, provides clear feedback",
		Style:       "Focus on accuracy and proper usage, keep responses concise and educational.",
	},
	{
		ID: "casual", Name: "Casual", Label: "Casual & Fun",
		Description: "Uses idioms, humor, and relatable examples",
		Style:       "Use idioms, humor and relatable examples, keep the conversation light and engaging.",
	},
}

var topics = []Topic{
	{ID: "general", Name: "General", Description: "General conversation practice"},
	{ID: "food", Name: "Restaurant & Ordering Food", Description: "Restaurant and food discussions"},
	{ID: "travel", Name: "Travel & Tourism", Description: "Travel and tourism scenarios"},
	{ID: "work", Name: "Work", Description: "Professional and work-related topics"},
	{ID: "shopping", Name: "Shopping & Errands", Description: "Shopping and errands"},
	{ID: "interview", Name: "Job Interview", Description: "Practice job interviews"},
	{ID: "smalltalk", Name: "Everyday Small Talk", Description: "Casual everyday conversation"},
}

// 默认设置
const (
	DefaultLevel    = "intermediate"
	DefaultPersona  = "friendly"
	DefaultTopic    = "general"
	DefaultLanguage = "en-US"
)

func Levels() []Level     { return append([]Level(nil), levels...) }
func Personas() []Persona { return append([]Persona(nil), personas...) }
func Topics() []Topic     { return append([]Topic(nil), topics...) }

// LookupLevel 接受 ID 或显示名称。
func LookupLevel(key string) (Level, bool) {
	for _, l := range levels {
		if strings.EqualFold(l.ID, key) || strings.EqualFold(l.Name, key) {
			return l, true
		}
	}
	return Level{}, false
}

// LookupPersona 接受 ID、短名称或完整标签。
func LookupPersona(key string) (Persona, bool) {
	for _, p := range personas {
		if strings.EqualFold(p.ID, key) || strings.EqualFold(p.Name, key) || strings.EqualFold(p.Label, key) {
			return p, true
		}
	}
	return Persona{}, false
}

// LookupTopic 接受 ID 或显示名称。
func LookupTopic(key string) (Topic, bool) {
	for _, t := range topics {
		if strings.EqualFold(t.ID, key) || strings.EqualFold(t.Name, key) {
			return t, true
		}
	}
	return Topic{}, false
}

// Settings 是一个会话的学习配置，每个字段都取自固定的目录。
type Settings struct {
	Level    string `json:"level"`
	Persona  string `json:"persona"`
	Topic    string `json:"topic"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

// DefaultSettings 返回默认设置，defaultVoice 为空时使用内置默认音色。
func DefaultSettings(defaultVoice string) Settings {
	if defaultVoice == "" {
		defaultVoice = speech.DefaultVoice
	}
	return Settings{
		Level:    DefaultLevel,
		Persona:  DefaultPersona,
		Topic:    DefaultTopic,
		Voice:    defaultVoice,
		Language: DefaultLanguage,
	}
}

// Merge 用 patch 中的非空字段覆盖当前设置。
func (s Settings) Merge(patch Settings) Settings {
	if patch.Level != "" {
		s.Level = patch.Level
	}
	if patch.Persona != "" {
		s.Persona = patch.Persona
	}
	if patch.Topic != "" {
		s.Topic = patch.Topic
	}
	if patch.Voice != "" {
		s.Voice = patch.Voice
	}
	if patch.Language != "" {
		s.Language = patch.Language
	}
	return s
}

// Normalize 将显示名称转换为 ID 并校验所有字段。
// 语言切换后如果音色不再匹配，则换成该语言的第一个音色。
func (s Settings) Normalize() (Settings, error) {
	level, ok := LookupLevel(s.Level)
	if !ok {
		return s, apperr.Invalid("unknown level %q", s.Level)
	}
	persona, ok := LookupPersona(s.Persona)
	if !ok {
		return s, apperr.Invalid("unknown persona %q", s.Persona)
	}
	topic, ok := LookupTopic(s.Topic)
	if !ok {
		return s, apperr.Invalid("unknown topic %q", s.Topic)
	}
	lang, ok := speech.LookupLanguage(s.Language)
	if !ok {
		return s, apperr.Invalid("unsupported language %q", s.Language)
	}
	voice, ok := speech.LookupVoice(s.Voice)
	if !ok {
		return s, apperr.Invalid("unsupported voice %q", s.Voice)
	}
	if speech.Family(voice.LanguageCode) != lang.Short {
		voice = speech.Voices(lang.Short)[0]
	}
	return Settings{
		Level:    level.ID,
		Persona:  persona.ID,
		Topic:    topic.ID,
		Voice:    voice.ID,
		Language: lang.Code,
	}, nil
}
