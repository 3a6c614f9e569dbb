package switchboard

import "context"

// ChatMessage is one turn in a reasoning-backend prompt.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// SystemPrompt builds a system-role chat message.
func SystemPrompt(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

// UserPrompt builds a user-role chat message.
func UserPrompt(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

// ChatRequest is a prompt for the reasoning backend. When JSON is set the
// backend is asked for a schema-conforming JSON object response.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	JSON     bool          `json:"json,omitempty"`
}

// ChatResponse is the reasoning backend's reply.
type ChatResponse struct {
	Content string `json:"content"`
}

// Provider abstracts the reasoning backend used by the classification port
// and the fallback clarification. provider/openaicompat implements it for
// any OpenAI-compatible chat API.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the backend name for logs and error messages.
	Name() string
}
