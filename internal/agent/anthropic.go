package agent

import (
	"context"
	"encoding/json"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/querypilot/querypilot/internal/config"
)

// AnthropicClient implements LLMClient against the Anthropic Messages
// API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropicClient(cfg config.LLMConfig) *AnthropicClient {
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, system string, tools []ToolSpec, history []Message) (Turn, error) {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		messages = append(messages, toAnthropicMessage(msg))
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  messages,
		Tools:     toAnthropicTools(tools),
	}
	if system != "" {
		// The system prompt is static per deployment, so let the API
		// cache it across turns.
		params.System = []anthropic.TextBlockParam{
			{
				Text:         system,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Turn{}, fmt.Errorf("anthropic completion: %w", err)
	}

	turn := Turn{Message: Message{Role: "assistant", raw: resp.ToParam()}}
	for _, block := range resp.Content {
		if text := block.AsText(); text.Text != "" {
			if turn.Text != "" {
				turn.Text += "\n"
			}
			turn.Text += text.Text
		}
		if toolUse := block.AsToolUse(); toolUse.ID != "" && toolUse.Name != "" {
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:    toolUse.ID,
				Name:  toolUse.Name,
				Input: json.RawMessage(toolUse.Input),
			})
		}
	}
	turn.Message.Text = turn.Text
	return turn, nil
}

func toAnthropicMessage(msg Message) anthropic.MessageParam {
	if param, ok := msg.raw.(anthropic.MessageParam); ok {
		return param
	}
	if len(msg.ToolResults) > 0 {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResults))
		for _, result := range msg.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(result.CallID, result.Content, result.IsError))
		}
		return anthropic.NewUserMessage(blocks...)
	}
	if msg.Role == "assistant" {
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text))
	}
	return anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text))
}

func toAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.Opt(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: tool.InputSchema,
				Required:   tool.Required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}
