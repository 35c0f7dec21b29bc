// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"ai-tutor-go/internal/service"
	"ai-tutor-go/pkg/speech"

	"github.com/gin-gonic/gin"
)

// AudioHandler 处理独立的语音识别与合成请求。
type AudioHandler struct {
	tutorService service.TutorService
}

// NewAudioHandler 创建一个新的 AudioHandler。
func NewAudioHandler(tutorService service.TutorService) *AudioHandler {
	return &AudioHandler{tutorService: tutorService}
}

// Transcribe 识别上传的录音。
func (h *AudioHandler) Transcribe(c *gin.Context) {
	audio, encoding, err := readAudio(c)
	if err != nil {
		fail(c, "Transcribe", err)
		return
	}
	transcript, err := h.tutorService.Transcribe(c.Request.Context(), audio, encoding, c.PostForm("language"))
	if err != nil {
		fail(c, "Transcribe", err)
		return
	}
	ok(c, "success", transcript)
}

// SynthesizeRequest 是语音合成的请求体。
type SynthesizeRequest struct {
	Text  string `json:"text" binding:"required"`
	Voice string `json:"voice"`
}

// Synthesize 返回 audio/mpeg 音频，启用缓存时在 X-Audio-URL 中附带预签名地址。
func (h *AudioHandler) Synthesize(c *gin.Context) {
	var req SynthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Synthesize", err)
		return
	}
	audio, url, err := h.tutorService.Synthesize(c.Request.Context(), req.Text, req.Voice)
	if err != nil {
		fail(c, "Synthesize", err)
		return
	}
	if url != "" {
		c.Header("X-Audio-URL", url)
	}
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

// Voices 返回某个语言的音色，language 可以是 en、fr 或完整的语言代码。
func (h *AudioHandler) Voices(c *gin.Context) {
	ok(c, "success", speech.Voices(speech.Family(c.DefaultQuery("language", "en"))))
}

// Languages 返回支持的会话语言。
func (h *AudioHandler) Languages(c *gin.Context) {
	ok(c, "success", speech.Languages())
}
