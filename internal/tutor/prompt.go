// Package tutor builds tutor prompts and turns completion output into replies.
package tutor

import (
	"fmt"
	"strings"

	"ai-tutor-go/internal/conversation"
	"ai-tutor-go/internal/model"
	"ai-tutor-go/pkg/llm"
	"ai-tutor-go/pkg/speech"
)

const systemTemplate = `You are an experienced %[1]s language tutor with a %[2]s teaching style. %[3]s

Your role:
- Help students practice %[1]s conversation on the topic of %[4]s
- Adapt your language to %[5]s proficiency (%[6]s)
- Keep responses natural and conversational (2-3 sentences)
- Provide grammar corrections when needed WITHOUT interrupting the conversation flow

CRITICAL: You MUST use this exact format for EVERY response:

<conversation>
[Your natural, conversational response here - NO corrections, NO grammar mentions, ONLY conversation]
</conversation>

<correction>
[ONLY if there was a grammar/vocabulary/spelling error, write it here. Otherwise leave empty]
[Format: "You said: '[incorrect phrase]' → Better: '[corrected phrase]' - [brief explanation]"]
</correction>

IMPORTANT RULES:
1. The <conversation> section should NEVER mention errors or corrections
2. The <conversation> section should flow naturally as if nothing was wrong
3. Keep the conversation going - ask follow-up questions, show interest
4. The <correction> section is COMPLETELY SEPARATE - only grammar fixes go there
5. If there are no errors, leave <correction> empty
6. Do NOT mix conversation and correction - they are separate sections

Topic: %[4]s
Level: %[5]s
Persona: %[7]s
`

// languageName returns the English name of the language family taught.
func languageName(code string) string {
	if speech.Family(code) == "fr" {
		return "French"
	}
	return "English"
}

// SystemPrompt renders the tutor instruction for the given settings.
// Unknown catalog keys fall back to the defaults so a prompt is always produced.
func SystemPrompt(s model.Settings) string {
	level, ok := model.LookupLevel(s.Level)
	if !ok {
		level, _ = model.LookupLevel(model.DefaultLevel)
	}
	persona, ok := model.LookupPersona(s.Persona)
	if !ok {
		persona, _ = model.LookupPersona(model.DefaultPersona)
	}
	topic, ok := model.LookupTopic(s.Topic)
	if !ok {
		topic, _ = model.LookupTopic(model.DefaultTopic)
	}
	return fmt.Sprintf(systemTemplate,
		languageName(s.Language),
		strings.ToLower(persona.Name),
		persona.Style,
		topic.Name,
		level.Name,
		level.Description,
		persona.Label,
	)
}

// BuildMessages assembles system instruction, prior turns and the new user message.
// Turns with a role other than user or assistant are left out.
func BuildMessages(s model.Settings, history []conversation.Turn, userMessage string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: SystemPrompt(s)})
	for _, t := range history {
		if !t.Role.Valid() {
			continue
		}
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: string(conversation.RoleUser), Content: userMessage})
	return msgs
}
