package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider talks to a local Ollama daemon. It needs no credentials.
type OllamaProvider struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	Client         *http.Client
}

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResp struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func NewOllamaProvider(baseURL, model, embeddingModel string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}
	return &OllamaProvider{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Model:          model,
		EmbeddingModel: embeddingModel,
		Client:         &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body := ollamaChatReq{
		Model:    p.Model,
		Messages: withSystem(req),
		Stream:   false,
		Options:  map[string]any{"num_predict": 500, "temperature": 0.7},
	}

	var decoded ollamaChatResp
	url := fmt.Sprintf("%s/api/chat", p.BaseURL)
	if err := postJSON(ctx, p.Client, "ollama", url, nil, body, &decoded); err != nil {
		return ChatResponse{}, err
	}
	if decoded.Error != "" {
		return ChatResponse{}, &CallError{Provider: "ollama", Status: http.StatusOK, Message: decoded.Error}
	}
	if decoded.Message.Content == "" {
		return ChatResponse{}, &CallError{Provider: "ollama", Status: http.StatusOK, Message: "no content in response"}
	}
	return ChatResponse{Content: decoded.Message.Content}, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	var decoded ollamaEmbedResp
	url := fmt.Sprintf("%s/api/embeddings", p.BaseURL)
	if err := postJSON(ctx, p.Client, "ollama", url, nil, ollamaEmbedReq{Model: p.EmbeddingModel, Prompt: text}, &decoded); err != nil {
		return nil, err
	}
	if decoded.Error != "" {
		return nil, &CallError{Provider: "ollama", Status: http.StatusOK, Message: decoded.Error}
	}
	if len(decoded.Embedding) == 0 {
		return nil, &CallError{Provider: "ollama", Status: http.StatusOK, Message: "no embedding in response"}
	}
	return decoded.Embedding, nil
}
