package ai

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	System   string
	Messages []Message
}

type ChatResponse struct {
	Content string
}

// Provider is a chat-completion backend. Implementations do not retry.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ConfigError reports a provider that cannot be constructed, usually because
// credentials are missing. It surfaces at startup.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

// CallError reports a failed upstream call. Status is 0 when the request never
// got an HTTP response.
type CallError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *CallError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}

// withSystem prepends the system prompt to the conversation.
func withSystem(req ChatRequest) []Message {
	out := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, Message{Role: RoleSystem, Content: req.System})
	}
	return append(out, req.Messages...)
}
