package assistant

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/unipath/unipath/realtime/internal/model/chat"
)

// fallbackTemplates are the canned advisor replies used when the upstream
// assistant is unreachable. Selection is keyed off the prompt so the same
// question always resolves to the same text.
var fallbackTemplates = []string{
	"Thanks for asking about %q. I can't reach the advisory service right now, but a counselor will follow up on this conversation shortly.",
	"I wasn't able to generate a live answer for %q at the moment. In the meantime, the program requirements page in your dashboard covers the most common questions.",
	"Your question about %q has been noted. The assistant is temporarily unavailable; please check back in a few minutes or message your assigned agent directly.",
}

// FallbackReply produces a local, deterministic reply for the given prompt
// and conversation context. It involves no network, so an assistant turn can
// always reach a terminal state even with the upstream service down.
func FallbackReply(prompt string, history []chat.Message) string {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		trimmed = "your question"
	}

	h := fnv.New32a()
	h.Write([]byte(trimmed))
	reply := fmt.Sprintf(fallbackTemplates[h.Sum32()%uint32(len(fallbackTemplates))], trimmed)

	if len(history) > 0 {
		reply += fmt.Sprintf(" Your conversation history (%d messages) is saved and will be picked up from where you left off.", len(history))
	}
	return reply
}
