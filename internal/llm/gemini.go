package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiClient struct {
	client *genai.Client
	model  string
}

func newGeminiClient(apiKey, model string, opts *clientOptions) (*geminiClient, error) {
	ctx := context.Background()
	config := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if opts.baseURL != "" {
		config.HTTPOptions.BaseURL = opts.baseURL
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &geminiClient{client: client, model: model}, nil
}

func convertGeminiMessages(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		if m.Image != nil {
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: m.Image.MIMEType, Data: m.Image.Data}})
		}
		if m.Content != "" {
			parts = append(parts, &genai.Part{Text: m.Content})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		config.Tools = append(config.Tools, &genai.Tool{FunctionDeclarations: decls})
	}
	if req.Search {
		config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return config
}

func (c *geminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	contents := convertGeminiMessages(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: no messages provided")
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, geminiConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini completion: %w", err)
	}

	if geminiBlocked(result) {
		return nil, fmt.Errorf("gemini: %w", ErrBlocked)
	}
	resp := parseGeminiResponse(result)
	if resp.empty() {
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return resp, nil
}

func geminiBlocked(result *genai.GenerateContentResponse) bool {
	if result == nil {
		return false
	}
	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return true
	}
	return len(result.Candidates) > 0 && result.Candidates[0].FinishReason == genai.FinishReasonSafety
}

func parseGeminiResponse(result *genai.GenerateContentResponse) *Response {
	resp := &Response{}
	if result == nil || len(result.Candidates) == 0 {
		return resp
	}

	cand := result.Candidates[0]
	var text strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.Thought:
			case p.FunctionCall != nil:
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Args: p.FunctionCall.Args})
			case p.InlineData != nil && len(p.InlineData.Data) > 0:
				resp.Images = append(resp.Images, Image{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
			case p.Text != "":
				text.WriteString(p.Text)
			}
		}
	}
	resp.Text = strings.TrimSpace(text.String())

	if gm := cand.GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil || chunk.Web == nil {
				continue
			}
			c := Citation{Title: chunk.Web.Title, URI: chunk.Web.URI}
			if c.Title == "" {
				c.Title = "Data Source"
			}
			if c.URI == "" {
				c.URI = "#"
			}
			resp.Citations = append(resp.Citations, c)
		}
	}
	return resp
}

// GenerateImage asks an image-capable model for a picture and returns the
// first inline image part.
func (c *geminiClient) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}}}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini image generation: %w", err)
	}

	resp := parseGeminiResponse(result)
	if len(resp.Images) == 0 {
		return nil, fmt.Errorf("gemini image generation: %w", ErrEmptyResponse)
	}
	img := resp.Images[0]
	if img.MIMEType == "" {
		img.MIMEType = "image/png"
	}
	return &img, nil
}
