// Package chat holds the conversation model the router accepts and the
// transformations applied before anything reaches a provider.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role is the closed set of message authors.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole returns the role named by s.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return r, true
	default:
		return "", false
	}
}

// Message is one validated conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// WireMessage is a turn as received. Content stays raw so that anything but
// a JSON string can be rejected rather than coerced.
type WireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ValidationError names the first offending message.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("messages[%d]: %s", e.Index, e.Reason)
}

// Validate converts wire messages, failing on the first unknown role or
// non-string content.
func Validate(in []WireMessage) ([]Message, error) {
	if len(in) == 0 {
		return nil, &ValidationError{Index: 0, Reason: "at least one message is required"}
	}

	out := make([]Message, 0, len(in))
	for i, m := range in {
		role, ok := ParseRole(m.Role)
		if !ok {
			return nil, &ValidationError{Index: i, Reason: fmt.Sprintf("invalid role %q", m.Role)}
		}

		raw := bytes.TrimSpace(m.Content)
		if len(raw) == 0 || raw[0] != '"' {
			return nil, &ValidationError{Index: i, Reason: "content must be a string"}
		}
		var content string
		if err := json.Unmarshal(raw, &content); err != nil {
			return nil, &ValidationError{Index: i, Reason: "content must be a string"}
		}

		out = append(out, Message{Role: role, Content: content})
	}
	return out, nil
}

// Truncate keeps the last n messages. n <= 0 keeps everything.
func Truncate(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// LastUserMessage returns the content of the most recent user turn.
func LastUserMessage(msgs []Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content, true
		}
	}
	return "", false
}
