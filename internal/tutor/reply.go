package tutor

import (
	"regexp"
	"strings"
)

// Reply is a parsed tutor answer.
type Reply struct {
	Conversation string `json:"conversation"`
	Correction   string `json:"correction,omitempty"`
	Raw          string `json:"-"`
}

var (
	conversationTag = regexp.MustCompile(`(?s)<conversation>(.*?)</conversation>`)
	correctionTag   = regexp.MustCompile(`(?s)<correction>(.*?)</correction>`)
)

// ParseReply splits a completion into its conversation and correction parts.
// Without a <conversation> block the whole text is the conversation.
// Placeholder corrections ("-", "none", "n/a" or under three characters) are dropped.
func ParseReply(raw string) Reply {
	raw = strings.TrimSpace(raw)
	r := Reply{Raw: raw, Conversation: raw}

	if m := conversationTag.FindStringSubmatch(raw); m != nil {
		r.Conversation = strings.TrimSpace(m[1])
	} else if i := strings.Index(raw, "<correction>"); i >= 0 {
		r.Conversation = strings.TrimSpace(raw[:i])
	}
	if m := correctionTag.FindStringSubmatch(raw); m != nil {
		r.Correction = cleanCorrection(m[1])
	}
	return r
}

func cleanCorrection(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return ""
	}
	switch strings.ToLower(s) {
	case "-", "none", "n/a", "none.":
		return ""
	}
	return s
}
