package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maternify/backend/resilience"
	"github.com/sashabaranov/go-openai"
)

// OpenAIService covers Whisper transcription, DALL-E illustrations and text
// embeddings.
type OpenAIService struct {
	client *openai.Client
	guard  *resilience.Guard
}

func NewOpenAIService(apiKey, baseURL string) *OpenAIService {
	s := &OpenAIService{guard: resilience.NewGuard("openai", 120*time.Second)}
	if apiKey == "" {
		slog.Warn("OpenAI API key not configured")
		return s
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	s.client = openai.NewClientWithConfig(cfg)
	return s
}

func (s *OpenAIService) Configured() bool {
	return s != nil && s.client != nil
}

// Transcribe sends the audio to whisper-1. filename only hints the format.
func (s *OpenAIService) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if filename == "" {
		filename = "audio.wav"
	}

	res, err := s.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return s.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    openai.Whisper1,
			FilePath: filename,
			Reader:   bytes.NewReader(audio),
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return res.(openai.AudioResponse).Text, nil
}

// GenerateImage asks DALL-E 3 for a 1024x1024 picture and returns its URL.
func (s *OpenAIService) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	res, err := s.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return s.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          openai.CreateImageModelDallE3,
			N:              1,
			Size:           openai.CreateImageSize1024x1024,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate image: %w", err)
	}

	resp := res.(openai.ImageResponse)
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("image generation returned no data")
	}
	return resp.Data[0].URL, nil
}

// Embed returns one vector per input, in input order.
func (s *OpenAIService) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	res, err := s.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: inputs,
			Model: openai.EmbeddingModel(model),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	resp := res.(openai.EmbeddingResponse)
	vectors := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}
