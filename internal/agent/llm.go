package agent

import (
	"context"
	"encoding/json"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is the outcome of a tool invocation, addressed back to
// the requesting call.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Message is one conversation entry in provider-neutral form. The raw
// field carries the provider-native representation of an assistant
// turn so tool_use blocks survive the round trip.
type Message struct {
	Role        string
	Text        string
	ToolResults []ToolResult
	raw         any
}

func UserMessage(text string) Message {
	return Message{Role: "user", Text: text}
}

func toolResultMessage(results []ToolResult) Message {
	return Message{Role: "user", ToolResults: results}
}

// ToolSpec describes one tool offered to the model. InputSchema is a
// JSON Schema fragment with object type, properties, and required.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
	Required    []string
}

// Turn is one model response. Message is the assistant entry to append
// to the history before continuing the conversation.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
	Message   Message
}

// LLMClient completes one conversation turn against a language model.
type LLMClient interface {
	Complete(ctx context.Context, system string, tools []ToolSpec, history []Message) (Turn, error)
}
