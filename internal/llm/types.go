// Package llm is the language-model completion service used by the
// orchestrator. Providers translate the provider-neutral Request/Response
// types defined here to their own wire formats.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the content of a Block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one piece of turn content. Which fields are set depends on Type:
// text uses Text; tool_use uses ID, Name and Input; tool_result uses
// ToolUseID, Content and IsError.
type Block struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// TextBlock returns a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolUseBlock returns a tool invocation block.
func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock returns the result of the invocation with the given id.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Turn is one message in the conversation.
type Turn struct {
	Role   Role    `json:"role"`
	Blocks []Block `json:"content"`
}

// UserText returns a user turn with a single text block.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Blocks: []Block{TextBlock(text)}}
}

// AssistantText returns an assistant turn with a single text block.
func AssistantText(text string) Turn {
	return Turn{Role: RoleAssistant, Blocks: []Block{TextBlock(text)}}
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is a single completion request.
type Request struct {
	System    string
	Turns     []Turn
	Tools     []ToolSpec
	MaxTokens int
}

// Usage reports token consumption of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Response is the model's reply.
type Response struct {
	Blocks     []Block
	StopReason string
	Usage      Usage
}

// Text joins all text blocks.
func (r *Response) Text() string {
	var parts []string
	for _, b := range r.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool invocation blocks in order.
func (r *Response) ToolUses() []Block {
	var uses []Block
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Client completes a conversation.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// StatusError is returned for non-2xx responses from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("model service returned status %d: %s", e.Code, body)
}

// StatusCode returns the HTTP status code.
func (e *StatusError) StatusCode() int {
	return e.Code
}
