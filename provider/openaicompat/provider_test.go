package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mirako/switchboard"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestChat(t *testing.T) {
	var gotBody chatBody
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
			t.Errorf("auth = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hello"}},
			},
		})
	})

	p := NewProvider("key-1", "test-model", srv.URL)
	resp, err := p.Chat(context.Background(), switchboard.ChatRequest{
		Messages: []switchboard.ChatMessage{
			switchboard.SystemPrompt("be brief"),
			switchboard.UserPrompt("hi"),
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q", resp.Content)
	}
	if gotBody.Model != "test-model" || len(gotBody.Messages) != 2 {
		t.Errorf("request body = %+v", gotBody)
	}
	if gotBody.ResponseFormat != nil {
		t.Error("response_format must be absent without JSON mode")
	}
}

func TestChatJSONMode(t *testing.T) {
	var gotBody chatBody
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"intent_id":"refund"}`}},
			},
		})
	})

	p := NewProvider("", "m", srv.URL)
	resp, err := p.Chat(context.Background(), switchboard.ChatRequest{
		Messages: []switchboard.ChatMessage{switchboard.UserPrompt("refund")},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if gotBody.ResponseFormat == nil || gotBody.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v, want json_object", gotBody.ResponseFormat)
	}
	if resp.Content != `{"intent_id":"refund"}` {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestChatOptions(t *testing.T) {
	var gotBody chatBody
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	})

	p := NewProvider("", "m", srv.URL, WithTemperature(0), WithMaxTokens(64))
	if _, err := p.Chat(context.Background(), switchboard.ChatRequest{
		Messages: []switchboard.ChatMessage{switchboard.UserPrompt("hi")},
	}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if gotBody.Temperature == nil || *gotBody.Temperature != 0 {
		t.Errorf("temperature = %v", gotBody.Temperature)
	}
	if gotBody.MaxTokens == nil || *gotBody.MaxTokens != 64 {
		t.Errorf("max_tokens = %v", gotBody.MaxTokens)
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})

	p := NewProvider("", "m", srv.URL)
	_, err := p.Chat(context.Background(), switchboard.ChatRequest{
		Messages: []switchboard.ChatMessage{switchboard.UserPrompt("hi")},
	})

	var httpErr *switchboard.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want ErrHTTP", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", httpErr.Status)
	}
}

func TestChatMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"no choices", `{"choices":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			p := NewProvider("", "m", srv.URL)
			if _, err := p.Chat(context.Background(), switchboard.ChatRequest{
				Messages: []switchboard.ChatMessage{switchboard.UserPrompt("hi")},
			}); err == nil {
				t.Error("want error")
			}
		})
	}
}
