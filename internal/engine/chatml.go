package engine

import "strings"

const (
	chatMLStart = "<|im_start|>"
	chatMLEnd   = "<|im_end|>"
)

// renderChatML flattens history into a ChatML prompt ending with an open
// assistant turn. Tool results are rendered as tool turns.
func renderChatML(history []Message) string {
	var b strings.Builder
	for _, m := range history {
		b.WriteString(chatMLStart)
		b.WriteString(string(m.Role))
		b.WriteByte('\n')
		b.WriteString(m.Content)
		b.WriteString(chatMLEnd)
		b.WriteByte('\n')
	}
	b.WriteString(chatMLStart)
	b.WriteString(string(RoleAssistant))
	b.WriteByte('\n')
	return b.String()
}
