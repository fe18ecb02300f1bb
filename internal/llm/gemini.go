package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-2.5-pro"
	// syntheticIDPrefix marks call ids invented locally because the API sent none.
	syntheticIDPrefix = "gemini-call-"
)

// Gemini talks to the Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required (set TASKR_API_KEY or GEMINI_API_KEY)")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{client: client, model: model}, nil
}

// Complete sends one GenerateContent request.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	contents, err := toGeminiContents(req.Turns)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema map[string]any
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: schema,
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, mapGeminiError(err)
	}
	return fromGeminiResponse(resp)
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &StatusError{Code: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini: %w", err)
}

func toGeminiContents(turns []Turn) ([]*genai.Content, error) {
	// function responses must carry the name of the call they answer
	names := make(map[string]string)
	contents := make([]*genai.Content, 0, len(turns))

	for _, t := range turns {
		role := string(genai.RoleUser)
		if t.Role == RoleAssistant {
			role = string(genai.RoleModel)
		}
		c := &genai.Content{Role: role}

		for _, b := range t.Blocks {
			switch b.Type {
			case BlockText:
				if b.Text != "" {
					c.Parts = append(c.Parts, genai.NewPartFromText(b.Text))
				}
			case BlockToolUse:
				args := map[string]any{}
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &args); err != nil {
						return nil, fmt.Errorf("tool call %s input: %w", b.Name, err)
					}
				}
				names[b.ID] = b.Name
				fc := &genai.FunctionCall{Name: b.Name, Args: args}
				if !strings.HasPrefix(b.ID, syntheticIDPrefix) {
					fc.ID = b.ID
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: fc})
			case BlockToolResult:
				key := "output"
				if b.IsError {
					key = "error"
				}
				fr := &genai.FunctionResponse{
					Name:     names[b.ToolUseID],
					Response: map[string]any{key: b.Content},
				}
				if !strings.HasPrefix(b.ToolUseID, syntheticIDPrefix) {
					fr.ID = b.ToolUseID
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionResponse: fr})
			}
		}
		if len(c.Parts) > 0 {
			contents = append(contents, c)
		}
	}
	return contents, nil
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	out := &Response{}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("gemini: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return out, nil
	}

	cand := resp.Candidates[0]
	out.StopReason = string(cand.FinishReason)
	for i, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("%s%d", syntheticIDPrefix, i)
			}
			input, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("encoding function call args: %w", err)
			}
			if p.FunctionCall.Args == nil {
				input = json.RawMessage("{}")
			}
			out.Blocks = append(out.Blocks, ToolUseBlock(id, p.FunctionCall.Name, input))
		case p.Text != "" && !p.Thought:
			out.Blocks = append(out.Blocks, TextBlock(p.Text))
		}
	}
	return out, nil
}
