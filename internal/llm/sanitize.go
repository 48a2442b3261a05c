package llm

import (
	"regexp"
	"strings"
)

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	// Some models open the answer with a fixed lead-in before the actual content.
	answerLeadIn = regexp.MustCompile(`(?i)^\s*(answer|response)\s*:\s*`)
)

// StripThinkingTags removes <think>...</think> blocks from model output.
// An unclosed block swallows the rest of the text.
func StripThinkingTags(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// CleanAnswer strips reasoning blocks and a leading "Answer:" label.
func CleanAnswer(s string) string {
	return strings.TrimSpace(answerLeadIn.ReplaceAllString(StripThinkingTags(s), ""))
}
