package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider speaks the OpenAI chat-completions/embeddings protocol. The
// same wire format serves OpenAI, the Vercel AI gateway and OpenRouter.
type OpenAIProvider struct {
	Name           string
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	// Headers are extra request headers, e.g. OpenRouter attribution.
	Headers map[string]string
	Client  *http.Client
}

type openAIChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type openAIChatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResp struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func newOpenAICompatible(name, baseURL, apiKey, model, embeddingModel string) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigError{Provider: name, Reason: "api key is required"}
	}
	if strings.TrimSpace(model) == "" {
		return nil, &ConfigError{Provider: name, Reason: "model is required"}
	}
	return &OpenAIProvider{
		Name:           name,
		BaseURL:        strings.TrimRight(baseURL, "/"),
		APIKey:         apiKey,
		Model:          model,
		EmbeddingModel: embeddingModel,
		MaxTokens:      500,
		Temperature:    0.7,
		Client:         &http.Client{Timeout: 90 * time.Second},
	}, nil
}

func NewOpenAIProvider(baseURL, apiKey, model, embeddingModel string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return newOpenAICompatible("openai", baseURL, apiKey, model, embeddingModel)
}

func NewVercelProvider(baseURL, apiKey, model, embeddingModel string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = "https://api.vercel.ai/v1"
	}
	return newOpenAICompatible("vercel", baseURL, apiKey, model, embeddingModel)
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	p, err := newOpenAICompatible("openrouter", baseURL, apiKey, model, "")
	if err != nil {
		return nil, err
	}
	p.Headers = map[string]string{"HTTP-Referer": siteURL, "X-Title": appName}
	return p, nil
}

func (p *OpenAIProvider) headers() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + p.APIKey}
	for k, v := range p.Headers {
		h[k] = v
	}
	return h
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body := openAIChatReq{
		Model:       p.Model,
		Messages:    withSystem(req),
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}

	var decoded openAIChatResp
	url := fmt.Sprintf("%s/chat/completions", p.BaseURL)
	if err := postJSON(ctx, p.Client, p.Name, url, p.headers(), body, &decoded); err != nil {
		return ChatResponse{}, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return ChatResponse{}, &CallError{Provider: p.Name, Status: http.StatusOK, Message: decoded.Error.Message}
	}
	if len(decoded.Choices) == 0 || decoded.Choices[0].Message.Content == "" {
		return ChatResponse{}, &CallError{Provider: p.Name, Status: http.StatusOK, Message: "no content in response"}
	}
	return ChatResponse{Content: decoded.Choices[0].Message.Content}, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if p.EmbeddingModel == "" {
		return nil, &CallError{Provider: p.Name, Message: "embedding model is not configured"}
	}

	var decoded openAIEmbedResp
	url := fmt.Sprintf("%s/embeddings", p.BaseURL)
	if err := postJSON(ctx, p.Client, p.Name, url, p.headers(), openAIEmbedReq{Model: p.EmbeddingModel, Input: text}, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, &CallError{Provider: p.Name, Status: http.StatusOK, Message: "no embedding in response"}
	}
	return decoded.Data[0].Embedding, nil
}
