package speech

import "strings"

// Voice 描述一个可用于合成的 Google TTS 音色。
type Voice struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Gender       string `json:"gender"`
	LanguageCode string `json:"languageCode"`
}

// Language 描述一个支持识别与合成的语言。
type Language struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Short string `json:"short"`
}

var voices = []Voice{
	{ID: "en-US-Journey-F", Name: "Journey Female", Gender: "female", LanguageCode: "en-US"},
	{ID: "en-US-Journey-D", Name: "Journey Male", Gender: "male", LanguageCode: "en-US"},
	{ID: "en-US-Studio-O", Name: "Studio Female", Gender: "female", LanguageCode: "en-US"},
	{ID: "en-US-Studio-M", Name: "Studio Male", Gender: "male", LanguageCode: "en-US"},
	{ID: "en-US-Neural2-F", Name: "Neural2 Female", Gender: "female", LanguageCode: "en-US"},
	{ID: "en-US-Neural2-C", Name: "Neural2 Female C", Gender: "female", LanguageCode: "en-US"},
	{ID: "en-US-Neural2-D", Name: "Neural2 Male", Gender: "male", LanguageCode: "en-US"},
	{ID: "en-US-Neural2-A", Name: "Neural2 Male A", Gender: "male", LanguageCode: "en-US"},
	{ID: "fr-FR-Neural2-A", Name: "Neural2 Female A", Gender: "female", LanguageCode: "fr-FR"},
	{ID: "fr-FR-Neural2-B", Name: "Neural2 Male B", Gender: "male", LanguageCode: "fr-FR"},
	{ID: "fr-FR-Neural2-C", Name: "Neural2 Female C", Gender: "female", LanguageCode: "fr-FR"},
	{ID: "fr-FR-Neural2-D", Name: "Neural2 Male D", Gender: "male", LanguageCode: "fr-FR"},
	{ID: "fr-FR-Standard-A", Name: "Standard Female A", Gender: "female", LanguageCode: "fr-FR"},
	{ID: "fr-FR-Standard-B", Name: "Standard Male B", Gender: "male", LanguageCode: "fr-FR"},
}

var languages = []Language{
	{Code: "en-US", Name: "English (US)", Short: "en"},
	{Code: "en-GB", Name: "English (UK)", Short: "en"},
	{Code: "fr-FR", Name: "French", Short: "fr"},
}

// DefaultVoice 在会话未指定音色时使用。
const DefaultVoice = "en-US-Neural2-F"

// LookupVoice 按 ID 查找音色。
func LookupVoice(id string) (Voice, bool) {
	for _, v := range voices {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}

// Voices 返回某个语言族（如 "en"、"fr"）的音色，未知语言回退到英语。
func Voices(short string) []Voice {
	short = strings.ToLower(short)
	if short == "" {
		short = "en"
	}
	var out []Voice
	for _, v := range voices {
		if Family(v.LanguageCode) == short {
			out = append(out, v)
		}
	}
	if len(out) == 0 && short != "en" {
		return Voices("en")
	}
	return out
}

// Languages 返回支持的语言列表。
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// LookupLanguage 按语言代码查找语言。
func LookupLanguage(code string) (Language, bool) {
	for _, l := range languages {
		if strings.EqualFold(l.Code, code) {
			return l, true
		}
	}
	return Language{}, false
}

// Family 返回语言代码的语言族，"fr-FR" -> "fr"。
func Family(code string) string {
	if i := strings.IndexByte(code, '-'); i > 0 {
		code = code[:i]
	}
	return strings.ToLower(code)
}

// VoiceLanguage 从音色 ID 推导语言代码，"fr-FR-Neural2-A" -> "fr-FR"。
func VoiceLanguage(voiceID string) string {
	parts := strings.SplitN(voiceID, "-", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[0] + "-" + parts[1]
}
