package ai

import "context"

// Message is a single chat turn sent to a model provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextGenerator generates a complete text response in one call.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// StreamGenerator streams a chat completion token by token.
// onToken is invoked for every non-empty delta in arrival order; when it
// returns an error the stream is aborted and that error is returned.
type StreamGenerator interface {
	ChatStream(ctx context.Context, messages []Message, onToken func(token string) error) error
}
