package chat

import (
	"strings"

	"chatd/pkg/types"
)

// BuildPrompt renders an ordered message history into the plain transcript
// format fed to the engine: one "User: "/"Assistant: " line per message,
// newline-joined, with a trailing "Assistant:" cue for continuation. Pure and
// total for any message sequence; building from a history plus one appended
// message yields the old prompt as a strict prefix up to the cue line.
//
// This simple format works with many base models. Instruct/chat-tuned models
// may want a specific template (ChatML, Llama-3) instead.
func BuildPrompt(msgs []types.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == types.RoleAssistant {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(m.Text)
		b.WriteByte('\n')
	}
	b.WriteString("Assistant:")
	return b.String()
}
