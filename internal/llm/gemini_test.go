package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertGeminiMessages(t *testing.T) {
	contents := convertGeminiMessages([]Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
		{Role: "user", Content: "look", Image: &Image{MIMEType: "image/jpeg", Data: []byte{9}}},
		{Role: "user"},
	})

	if len(contents) != 3 {
		t.Fatalf("expected 3 conversation messages, got %d", len(contents))
	}
	if contents[0].Role != "user" || contents[0].Parts[0].Text != "hello" {
		t.Fatalf("unexpected first message: %#v", contents[0])
	}
	if contents[1].Role != "model" || contents[1].Parts[0].Text != "hi there" {
		t.Fatalf("unexpected second message: %#v", contents[1])
	}
	if len(contents[2].Parts) != 2 || contents[2].Parts[0].InlineData == nil || contents[2].Parts[1].Text != "look" {
		t.Fatalf("expected image then text parts: %#v", contents[2])
	}
}

func TestGeminiConfigTools(t *testing.T) {
	config := geminiConfig(Request{
		System: "be jarvis",
		Tools:  []Tool{{Name: "generate_hologram", Parameters: map[string]any{"type": "object"}}},
		Search: true,
	})
	if config.SystemInstruction == nil || config.SystemInstruction.Parts[0].Text != "be jarvis" {
		t.Fatalf("unexpected system instruction %#v", config.SystemInstruction)
	}
	if len(config.Tools) != 2 {
		t.Fatalf("expected function and search tools, got %d", len(config.Tools))
	}
	if config.Tools[0].FunctionDeclarations[0].Name != "generate_hologram" || config.Tools[1].GoogleSearch == nil {
		t.Fatalf("unexpected tools %#v", config.Tools)
	}
}

func geminiServer(t *testing.T, parts []map[string]any, extra map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		cand := map[string]any{
			"content":      map[string]any{"parts": parts, "role": "model"},
			"finishReason": "STOP",
		}
		for k, v := range extra {
			cand[k] = v
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []map[string]any{cand}})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGeminiGenerateParsesParts(t *testing.T) {
	server := geminiServer(t, []map[string]any{
		{"text": "internal musing", "thought": true},
		{"text": "The suit is ready, Sir."},
		{"functionCall": map[string]any{"name": "generate_hologram", "args": map[string]any{"subject": "mark 7"}}},
	}, map[string]any{
		"groundingMetadata": map[string]any{
			"groundingChunks": []map[string]any{
				{"web": map[string]any{"uri": "https://example.com/a", "title": "Source A"}},
				{"web": map[string]any{}},
			},
		},
	})

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}

	got, err := client.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "suit up"}}, Search: true})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got.Text != "The suit is ready, Sir." {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Args["subject"] != "mark 7" {
		t.Fatalf("unexpected tool calls %#v", got.ToolCalls)
	}
	if len(got.Citations) != 2 || got.Citations[0].URI != "https://example.com/a" {
		t.Fatalf("unexpected citations %#v", got.Citations)
	}
	if got.Citations[1] != (Citation{Title: "Data Source", URI: "#"}) {
		t.Fatalf("expected placeholder citation, got %#v", got.Citations[1])
	}
}

func TestGeminiGenerateEmptyResult(t *testing.T) {
	server := geminiServer(t, []map[string]any{{"text": ""}}, nil)

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}

	_, err = client.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hello"}}})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGeminiGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	server := geminiServer(t, []map[string]any{
		{"text": "Here is your projection."},
		{"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString(png)}},
	}, nil)

	gen, err := NewImageGenerator("gemini", "test-key", "gemini-image", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewImageGenerator failed: %v", err)
	}

	img, err := gen.GenerateImage(context.Background(), "3D holographic wireframe of a reactor")
	if err != nil {
		t.Fatalf("GenerateImage failed: %v", err)
	}
	if img.MIMEType != "image/png" || string(img.Data) != string(png) {
		t.Fatalf("unexpected image %#v", img)
	}
	if !strings.HasPrefix(img.DataURL(), "data:image/png;base64,") {
		t.Fatalf("unexpected data url %q", img.DataURL())
	}
}

func TestGeminiGenerateImageWithoutImagePart(t *testing.T) {
	server := geminiServer(t, []map[string]any{{"text": "I cannot draw that."}}, nil)

	gen, err := NewImageGenerator("gemini", "test-key", "gemini-image", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewImageGenerator failed: %v", err)
	}
	if _, err := gen.GenerateImage(context.Background(), "nothing"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGeminiGenerateSafetyBlocked(t *testing.T) {
	server := geminiServer(t, []map[string]any{{"text": ""}}, map[string]any{"finishReason": "SAFETY"})

	client, err := newGeminiClient("test-key", "gemini-test", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newGeminiClient failed: %v", err)
	}

	_, err = client.Generate(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hello"}}})
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}
