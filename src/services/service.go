package services

import (
	"context"
	"fmt"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat request.
type Message struct {
	Role    Role
	Content string
}

// Transcriber converts caller speech to text.
type Transcriber interface {
	// Transcribe takes an encoded audio container (format is its file
	// extension, e.g. "wav") and returns the recognized text.
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Generator produces the agent's next reply.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Synthesizer converts reply text to 16-bit mono PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
	// OutputRate is the sample rate of Synthesize output.
	OutputRate() int
}

// Backend bundles the three capabilities behind one credential.
type Backend interface {
	Transcriber
	Generator
	Synthesizer
	Name() string
}

// APIError is a non-success HTTP response from a backend.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// NewMessages builds a chat request: system prompt first, then history.
func NewMessages(systemPrompt string, history ...Message) []Message {
	msgs := make([]Message, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(msgs, history...)
}
