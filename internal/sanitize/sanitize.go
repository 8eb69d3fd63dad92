// Package sanitize wraps user-generated comment text before it is
// handed to downstream LLM consumers, and recognizes agent-authored
// messages by their reply prefix.
package sanitize

import "strings"

const (
	openTag  = "<user_content>"
	closeTag = "</user_content>"
)

// DefaultAgentPrefix marks replies posted through the outbox.
const DefaultAgentPrefix = "[FDP]"

// ForLLM escapes angle brackets in free text and wraps it in
// user-content markers so a malicious comment cannot be interpreted as
// instructions by an LLM client. Applied once, to raw stored text.
func ForLLM(text string) string {
	escaped := strings.ReplaceAll(text, "<", "&lt;")
	escaped = strings.ReplaceAll(escaped, ">", "&gt;")
	return openTag + escaped + closeTag
}

// IsAgentMessage reports whether a comment was posted by our agent,
// detected by the configurable reply prefix.
func IsAgentMessage(message, prefix string) bool {
	if prefix == "" {
		prefix = DefaultAgentPrefix
	}
	return strings.HasPrefix(strings.TrimLeft(message, " \t\r\n"), prefix)
}

// FormatAgentReply prepends the agent reply prefix unless it is already
// present.
func FormatAgentReply(message, prefix string) string {
	if prefix == "" {
		prefix = DefaultAgentPrefix
	}
	if strings.HasPrefix(strings.TrimLeft(message, " \t\r\n"), prefix) {
		return message
	}
	return prefix + " " + message
}
