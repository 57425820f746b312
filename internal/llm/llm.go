// Package llm defines the boundary to chat-completion models.
package llm

import (
	"context"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	// Model overrides the completer's default model when set.
	Model string
	// JSON asks the model to answer with a single JSON object.
	JSON bool
}

type Completer interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

// Split separates system instructions from the conversation turns, for
// providers that take the system prompt out of band.
func Split(messages []Message) (system string, turns []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}

func Validate(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("no messages to complete")
	}
	for i, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	if last := messages[len(messages)-1]; last.Role != RoleUser {
		return fmt.Errorf("last message must come from the user, got %q", last.Role)
	}
	return nil
}
