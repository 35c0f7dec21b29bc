package tutor

import (
	"context"
	"strings"

	"ai-tutor-go/internal/apperr"
	"ai-tutor-go/internal/conversation"
	"ai-tutor-go/internal/model"
	"ai-tutor-go/pkg/llm"
)

// DefaultWindow is the number of prior turns sent with each request.
const DefaultWindow = 6

// Completer produces tutor replies through a chat-completion client.
type Completer struct {
	client llm.Client
	gen    *llm.GenerationParams
	window int
}

// NewCompleter returns a Completer. A window of zero or less uses DefaultWindow.
func NewCompleter(client llm.Client, gen *llm.GenerationParams, window int) *Completer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Completer{client: client, gen: gen, window: window}
}

// Window reports how many prior turns are sent with a request.
func (c *Completer) Window() int {
	return c.window
}

// Generate sends the system instruction, the most recent history turns and the
// new user message, then parses the reply. History longer than the window is trimmed.
func (c *Completer) Generate(ctx context.Context, history []conversation.Turn, settings model.Settings, userMessage string) (Reply, error) {
	msgs, err := c.messages(history, settings, userMessage)
	if err != nil {
		return Reply{}, err
	}
	raw, err := c.client.Chat(ctx, msgs, c.gen)
	if err != nil {
		return Reply{}, err
	}
	return ParseReply(raw), nil
}

// Stream behaves like Generate but forwards raw chunks to w while they arrive.
func (c *Completer) Stream(ctx context.Context, history []conversation.Turn, settings model.Settings, userMessage string, w llm.MessageWriter) (Reply, error) {
	msgs, err := c.messages(history, settings, userMessage)
	if err != nil {
		return Reply{}, err
	}
	tee := &teeWriter{next: w}
	if err := c.client.StreamChatMessages(ctx, msgs, c.gen, tee); err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(tee.buf.String()) == "" {
		return Reply{}, apperr.Remote("chat-completion", apperr.ReasonMalformed, 0, nil)
	}
	return ParseReply(tee.buf.String()), nil
}

func (c *Completer) messages(history []conversation.Turn, settings model.Settings, userMessage string) ([]llm.Message, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, apperr.Invalid("message must not be empty")
	}
	if len(history) > c.window {
		history = history[len(history)-c.window:]
	}
	return BuildMessages(settings, history, userMessage), nil
}

// teeWriter 在转发分块的同时保留完整回复。
type teeWriter struct {
	next llm.MessageWriter
	buf  strings.Builder
}

func (t *teeWriter) WriteMessage(messageType int, data []byte) error {
	t.buf.Write(data)
	if t.next == nil {
		return nil
	}
	return t.next.WriteMessage(messageType, data)
}
