package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned when a model answers with no text, image or
// tool call.
var ErrEmptyResponse = errors.New("empty model response")

// ErrBlocked is returned when the provider refused the prompt or withheld
// the answer on safety grounds.
var ErrBlocked = errors.New("response blocked by safety filter")

type Image struct {
	MIMEType string
	Data     []byte
}

// DataURL renders the image as a data: URL.
func (i *Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ParseDataURL decodes a base64 data: URL as produced by DataURL.
func ParseDataURL(s string) (*Image, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, fmt.Errorf("invalid data url: missing scheme")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("invalid data url: missing payload")
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok || mime == "" {
		return nil, fmt.Errorf("invalid data url: expected base64 media type")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid data url: %w", err)
	}
	return &Image{MIMEType: mime, Data: data}, nil
}

// Message is one conversation turn. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
	Image   *Image
}

// Tool is a function the model may call. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

type Citation struct {
	Title string
	URI   string
}

type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
	// Search enables web grounding where the provider supports it.
	Search bool
}

type Response struct {
	Text      string
	Images    []Image
	Citations []Citation
	ToolCalls []ToolCall
}

func (r *Response) empty() bool {
	return r.Text == "" && len(r.Images) == 0 && len(r.ToolCalls) == 0
}

type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*Image, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

// NewImageGenerator returns an image model client. Only gemini serves images.
func NewImageGenerator(provider, apiKey, model string, opts ...Option) (ImageGenerator, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if provider != "gemini" {
		return nil, fmt.Errorf("unsupported image provider %q: only gemini generates images", provider)
	}
	return newGeminiClient(apiKey, model, o)
}
