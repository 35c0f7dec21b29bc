package speech

import (
	"bytes"
	"strings"

	"cloud.google.com/go/speech/apiv1/speechpb"
)

// Encoding 是识别接口接受的音频编码。
type Encoding = speechpb.RecognitionConfig_AudioEncoding

// ParseEncoding 将扩展名或 MIME 类型映射为识别编码，第二个返回值表示是否支持。
func ParseEncoding(hint string) (Encoding, bool) {
	h := strings.ToLower(strings.TrimSpace(hint))
	if i := strings.IndexByte(h, ';'); i >= 0 {
		h = strings.TrimSpace(h[:i])
	}
	h = strings.TrimPrefix(h, ".")
	h = strings.TrimPrefix(h, "audio/")
	switch h {
	case "webm":
		return speechpb.RecognitionConfig_WEBM_OPUS, true
	case "ogg", "opus":
		return speechpb.RecognitionConfig_OGG_OPUS, true
	case "wav", "wave", "x-wav", "vnd.wave":
		return speechpb.RecognitionConfig_LINEAR16, true
	case "flac", "x-flac":
		return speechpb.RecognitionConfig_FLAC, true
	}
	return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, false
}

// DetectEncoding 通过文件头识别音频格式。
func DetectEncoding(audio []byte) (Encoding, bool) {
	switch {
	case bytes.HasPrefix(audio, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return speechpb.RecognitionConfig_WEBM_OPUS, true
	case bytes.HasPrefix(audio, []byte("OggS")):
		return speechpb.RecognitionConfig_OGG_OPUS, true
	case len(audio) >= 12 && bytes.Equal(audio[0:4], []byte("RIFF")) && bytes.Equal(audio[8:12], []byte("WAVE")):
		return speechpb.RecognitionConfig_LINEAR16, true
	case bytes.HasPrefix(audio, []byte("fLaC")):
		return speechpb.RecognitionConfig_FLAC, true
	}
	return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, false
}

// ResolveEncoding 优先使用客户端给出的提示，提示无法识别时按文件头判断。
func ResolveEncoding(hint string, audio []byte) (Encoding, bool) {
	if hint != "" {
		if enc, ok := ParseEncoding(hint); ok {
			return enc, true
		}
	}
	return DetectEncoding(audio)
}

// usesHeaderRate 报告该编码是否由文件头提供采样率。
func usesHeaderRate(e Encoding) bool {
	return e == speechpb.RecognitionConfig_LINEAR16 || e == speechpb.RecognitionConfig_FLAC
}
