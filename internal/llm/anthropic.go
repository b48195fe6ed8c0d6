package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropicClient(apiKey, model string, opts *clientOptions) (*anthropicClient, error) {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if opts.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.baseURL))
	}

	return &anthropicClient{client: anthropic.NewClient(clientOpts...), model: model}, nil
}

func anthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Parameters["properties"]}
		if req, ok := t.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		tool := &anthropic.ToolParam{Name: t.Name, InputSchema: schema}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: tool})
	}
	return out
}

func (c *anthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	var systemBlocks []anthropic.TextBlockParam
	if req.System != "" {
		systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: req.System})
	}

	var chatMessages []anthropic.MessageParam
	for _, m := range req.Messages {
		var blocks []anthropic.ContentBlockParamUnion
		if m.Image != nil {
			blocks = append(blocks, anthropic.NewImageBlockBase64(m.Image.MIMEType, base64.StdEncoding.EncodeToString(m.Image.Data)))
		}
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == "assistant" {
			chatMessages = append(chatMessages, anthropic.NewAssistantMessage(blocks...))
		} else {
			chatMessages = append(chatMessages, anthropic.NewUserMessage(blocks...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 8192,
		System:    systemBlocks,
		Messages:  chatMessages,
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	if resp.StopReason == anthropic.StopReasonRefusal {
		return nil, fmt.Errorf("anthropic: %w", ErrBlocked)
	}

	out := &Response{}
	var b strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			b.WriteString(block.Text)
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic: decode tool input for %s: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}
	out.Text = strings.TrimSpace(b.String())

	if out.empty() {
		return nil, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}
	return out, nil
}
