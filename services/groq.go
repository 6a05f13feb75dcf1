package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maternify/backend/resilience"
	"github.com/sashabaranov/go-openai"
)

// Groq model identifiers
const (
	ChatModel = "llama3-8b-8192"
	NameModel = "llama3-groq-70b-8192-tool-use-preview"
)

// GroqService talks to Groq through its OpenAI compatible API.
type GroqService struct {
	client *openai.Client
	guard  *resilience.Guard
}

func NewGroqService(apiKey, baseURL string) *GroqService {
	s := &GroqService{guard: resilience.NewGuard("groq", 60*time.Second)}
	if apiKey == "" {
		slog.Warn("Groq API key not configured")
		return s
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	s.client = openai.NewClientWithConfig(cfg)
	return s
}

func (s *GroqService) Configured() bool {
	return s != nil && s.client != nil
}

// Complete runs one chat completion and returns the trimmed reply.
func (s *GroqService) Complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	res, err := s.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	resp := res.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
