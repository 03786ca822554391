package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// State is the session lifecycle state.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Role of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Message is one turn of conversation history.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant turns only
	ToolCallID string     // tool turns only
	Name       string     // tool name for tool turns
}

// Tool is a capability the model may invoke during a turn.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object describing the arguments.
	Parameters json.RawMessage
	Invoke     func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t Tool) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("tool name is required")
	}
	if t.Invoke == nil {
		return fmt.Errorf("tool %s: Invoke is nil", t.Name)
	}
	if len(t.Parameters) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return fmt.Errorf("tool %s: parameters must be a JSON object: %w", t.Name, err)
		}
	}
	return nil
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
