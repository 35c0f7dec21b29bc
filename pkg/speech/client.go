// Package speech 封装 Google Cloud Speech-to-Text 与 Text-to-Speech。
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/config"
	"ai-tutor-go/pkg/log"

	stt "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	tts "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Recognizer 是 Speech-to-Text 客户端中用到的方法。
type Recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	Close() error
}

// Synthesizer 是 Text-to-Speech 客户端中用到的方法。
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

// Client 定义语音识别与合成操作。
type Client interface {
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (Transcript, error)
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
	Close() error
}

// TranscribeOptions 为空字段使用配置中的默认值，Encoding 为空时根据文件头判断。
type TranscribeOptions struct {
	Encoding     string
	LanguageCode string
}

// Transcript 是识别结果。
type Transcript struct {
	Text       string  `json:"transcript"`
	Confidence float32 `json:"confidence"`
}

type googleClient struct {
	rec Recognizer
	syn Synthesizer
	cfg config.SpeechConfig
}

// NewClient 使用服务账号 JSON 创建 Google 语音客户端。
func NewClient(ctx context.Context, cfg config.SpeechConfig, credentialsJSON string) (Client, error) {
	opt := option.WithCredentialsJSON([]byte(credentialsJSON))
	rec, err := stt.NewClient(ctx, opt)
	if err != nil {
		return nil, apperr.Configuration("create speech-to-text client: %v", err)
	}
	syn, err := tts.NewClient(ctx, opt)
	if err != nil {
		_ = rec.Close()
		return nil, apperr.Configuration("create text-to-speech client: %v", err)
	}
	log.Info("Google speech clients initialised")
	return NewWithClients(rec, syn, cfg), nil
}

// NewWithClients 使用已有的底层客户端构造 Client。
func NewWithClients(rec Recognizer, syn Synthesizer, cfg config.SpeechConfig) Client {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRateHertz == 0 {
		cfg.SampleRateHertz = 48000
	}
	return &googleClient{rec: rec, syn: syn, cfg: cfg}
}

func (c *googleClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// Transcribe 将录音转换为文本。空音频、不支持的格式和没有识别结果都返回 ErrTranscription。
func (c *googleClient) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (Transcript, error) {
	if err := checkAudio(audio); err != nil {
		return Transcript{}, err
	}

	enc, ok := ResolveEncoding(opts.Encoding, audio)
	if !ok {
		return Transcript{}, fmt.Errorf("%w: unsupported audio format %q", apperr.ErrTranscription, opts.Encoding)
	}

	lang := opts.LanguageCode
	if lang == "" {
		lang = c.cfg.LanguageCode
	}
	rc := &speechpb.RecognitionConfig{
		Encoding:                   enc,
		LanguageCode:               lang,
		EnableAutomaticPunctuation: true,
		Model:                      "default",
	}
	if !usesHeaderRate(enc) {
		rc.SampleRateHertz = c.cfg.SampleRateHertz
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.rec.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: rc,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	})
	if err != nil {
		log.Errorf("[Speech] recognize failed: %v", err)
		return Transcript{}, fmt.Errorf("%w: %w", apperr.ErrTranscription, classify("google-speech-to-text", err))
	}

	var (
		parts []string
		sum   float32
		n     int
	)
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
		sum += alts[0].GetConfidence()
		n++
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return Transcript{}, fmt.Errorf("%w: no speech recognized", apperr.ErrTranscription)
	}
	tr := Transcript{Text: text}
	if n > 0 {
		tr.Confidence = sum / float32(n)
	}
	return tr, nil
}

// Synthesize 将文本合成为 MP3，语言代码由音色 ID 推导。
func (c *googleClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	voice, err := checkSynthesisInput(text, voiceID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.syn.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{InputSource: &texttospeechpb.SynthesisInput_Text{Text: text}},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: voice.LanguageCode,
			Name:         voice.ID,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  1.0,
			Pitch:         0,
		},
	})
	if err != nil {
		log.Errorf("[Speech] synthesize failed: %v", err)
		return nil, fmt.Errorf("%w: %w", apperr.ErrSynthesis, classify("google-text-to-speech", err))
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, fmt.Errorf("%w: empty audio returned", apperr.ErrSynthesis)
	}
	return resp.GetAudioContent(), nil
}

func (c *googleClient) Close() error {
	return errors.Join(c.rec.Close(), c.syn.Close())
}

// classify 将 gRPC 状态码映射为 RemoteError。
func classify(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Remote(provider, apperr.ReasonTransient, 0, err)
	}
	var reason apperr.Reason
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		reason = apperr.ReasonAuth
	case codes.ResourceExhausted:
		reason = apperr.ReasonRateLimit
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		reason = apperr.ReasonTransient
	default:
		reason = apperr.ReasonRejected
	}
	return apperr.Remote(provider, reason, 0, err)
}

func checkAudio(audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("%w: empty audio", apperr.ErrTranscription)
	}
	return nil
}

func checkSynthesisInput(text, voiceID string) (Voice, error) {
	if strings.TrimSpace(text) == "" {
		return Voice{}, fmt.Errorf("%w: empty text", apperr.ErrSynthesis)
	}
	voice, ok := LookupVoice(voiceID)
	if !ok {
		return Voice{}, fmt.Errorf("%w: unsupported voice %q", apperr.ErrSynthesis, voiceID)
	}
	return voice, nil
}

type disabledClient struct{}

// Disabled 返回一个在语音凭证缺失时使用的 Client。输入本身无效时返回
// ErrTranscription 或 ErrSynthesis，其余情况返回 ErrConfiguration。
func Disabled() Client { return disabledClient{} }

func (disabledClient) Transcribe(_ context.Context, audio []byte, _ TranscribeOptions) (Transcript, error) {
	if err := checkAudio(audio); err != nil {
		return Transcript{}, err
	}
	return Transcript{}, apperr.Configuration("speech credentials are not configured")
}

func (disabledClient) Synthesize(_ context.Context, text, voiceID string) ([]byte, error) {
	if _, err := checkSynthesisInput(text, voiceID); err != nil {
		return nil, err
	}
	return nil, apperr.Configuration("speech credentials are not configured")
}

func (disabledClient) Close() error { return nil }
