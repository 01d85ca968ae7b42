// Package copilot – llm.go defines the neutral completion contract used by
// the orchestrator and workers, plus the Anthropic-backed implementation.
// Keeping the contract small makes the conversation loops testable with a
// scripted completer.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// BlockType identifies a content block in a model response.
type BlockType string

const (
	BlockText          BlockType = "text"
	BlockToolUse       BlockType = "tool_use"
	BlockServerToolUse BlockType = "server_tool_use"
)

// ContentBlock is one piece of model output: prose or a tool invocation.
type ContentBlock struct {
	Type  BlockType
	Text  string
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult carries the outcome of one tool call back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one turn of a completion conversation. A user turn may carry
// tool results instead of (or alongside) text.
type Message struct {
	Role        string
	Blocks      []ContentBlock
	ToolResults []ToolResult
}

// TextMessage builds a plain user or assistant turn.
func TextMessage(role, text string) Message {
	return Message{Role: role, Blocks: []ContentBlock{{Type: BlockText, Text: text}}}
}

// ToolResultsMessage builds the user turn that answers tool calls.
func ToolResultsMessage(results []ToolResult) Message {
	return Message{Role: "user", ToolResults: results}
}

// ToolDefinition describes a client tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      InputSchema
}

// InputSchema is the JSON schema of a tool's input object.
type InputSchema struct {
	Properties map[string]any
	Required   []string
}

// CompleteRequest is one completion call.
type CompleteRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int

	// EnableWebSearch attaches the server-side web search tool.
	EnableWebSearch  bool
	WebSearchMaxUses int
}

// CompleteResponse is the model's reply.
type CompleteResponse struct {
	Blocks     []ContentBlock
	StopReason string
}

// TextContent concatenates the text blocks of a response.
func (r *CompleteResponse) TextContent() string {
	var out string
	for _, b := range r.Blocks {
		if b.Type == BlockText {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns the client tool invocations in the response.
func (r *CompleteResponse) ToolCalls() []ContentBlock {
	var calls []ContentBlock
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			calls = append(calls, b)
		}
	}
	return calls
}

// HasServerToolUse reports whether the model invoked a server-side tool.
func (r *CompleteResponse) HasServerToolUse() bool {
	for _, b := range r.Blocks {
		if b.Type == BlockServerToolUse {
			return true
		}
	}
	return false
}

// Completer is the completion contract the conversation loops depend on.
type Completer interface {
	Complete(ctx context.Context, req *CompleteRequest) (*CompleteResponse, error)
}

// LLMConfig configures the Anthropic client.
type LLMConfig struct {
	Model             string `yaml:"model"`
	ResponseMaxTokens int    `yaml:"response_max_tokens"`
	EnableWebSearch   bool   `yaml:"enable_web_search"`
	WebSearchMaxUses  int    `yaml:"web_search_max_uses"`

	// APIKey is resolved via keyring/env when empty in the file.
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// DefaultLLMConfig returns the default model settings.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:             "claude-sonnet-4-5",
		ResponseMaxTokens: 4096,
		EnableWebSearch:   true,
		WebSearchMaxUses:  3,
	}
}

// LLMClient implements Completer on top of the Anthropic API.
type LLMClient struct {
	client anthropic.Client
	cfg    LLMConfig
	logger *slog.Logger
}

// NewLLMClient builds an Anthropic-backed completer.
func NewLLMClient(cfg LLMConfig, logger *slog.Logger) (*LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &LLMClient{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger.With("component", "llm"),
	}, nil
}

// Complete sends one completion request and converts the reply to the
// neutral model.
func (c *LLMClient) Complete(ctx context.Context, req *CompleteRequest) (*CompleteResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.ResponseMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	var tools []anthropic.ToolUnionParam
	for _, t := range req.Tools {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.Schema.Properties,
					Required:   t.Schema.Required,
				},
			},
		})
	}
	if req.EnableWebSearch {
		maxUses := req.WebSearchMaxUses
		if maxUses <= 0 {
			maxUses = c.cfg.WebSearchMaxUses
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{
				MaxUses: anthropic.Int(int64(maxUses)),
			},
		})
	}
	params.Tools = tools

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	resp := &CompleteResponse{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Blocks = append(resp.Blocks, ContentBlock{Type: BlockText, Text: block.Text})
		case "tool_use":
			resp.Blocks = append(resp.Blocks, ContentBlock{
				Type:  BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		case "server_tool_use":
			resp.Blocks = append(resp.Blocks, ContentBlock{
				Type: BlockServerToolUse,
				ID:   block.ID,
				Name: block.Name,
			})
		}
	}

	c.logger.Debug("completion done",
		"stop_reason", resp.StopReason,
		"blocks", len(resp.Blocks),
	)
	return resp, nil
}

// convertMessages maps the neutral history to SDK message params. Server
// tool blocks are elided when replaying assistant turns; the API manages
// those itself.
func convertMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		for _, r := range m.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
		}
		for _, b := range m.Blocks {
			switch b.Type {
			case BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, b.Input, b.Name))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}
