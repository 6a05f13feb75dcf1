package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maternify/backend/resilience"
	"google.golang.org/genai"
)

const ModelName = "gemini-2.5-flash"

const ultrasoundPrompt = `
You are an expert in medical image analysis with a focus on ultrasound images.
Your task is to examine the uploaded ultrasound image for any anomalies, conditions, or findings.
Please provide a detailed analysis and report based on the following guidelines:
1. **Detailed Analysis**: Thoroughly examine the ultrasound image for any abnormalities or issues.
Describe the findings in detail, including any notable observations.
2. **Analysis Report**: Summarize the findings in a structured format. Include any potential diagnoses, observations, and the significance of the findings.
3. **Recommendations**: Based on your analysis, suggest any further tests, treatments, or follow-up actions that might be necessary.
4. **Treatments**: If applicable, outline potential treatments or remedies that could be considered based on the analysis.
Important Notes:
- Ensure that the analysis is relevant to human health issues.
- If the image is unclear or of low quality, mention that certain aspects cannot be determined.
- Include a disclaimer: "Consult with a Doctor before making any decisions."
`

// GeminiService produces the written ultrasound analysis.
type GeminiService struct {
	genaiClient *genai.Client
	guard       *resilience.Guard
}

func NewGeminiService(apiKey string) *GeminiService {
	s := &GeminiService{guard: resilience.NewGuard("gemini", 120*time.Second)}
	if apiKey == "" {
		slog.Warn("Gemini API key not configured")
		return s
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		slog.Error("Failed to create genai client", "error", err)
		return s
	}
	s.genaiClient = client
	return s
}

func (g *GeminiService) Configured() bool {
	return g != nil && g.genaiClient != nil
}

// AnalyzeUltrasound returns a markdown report for the PNG encoded image.
func (g *GeminiService) AnalyzeUltrasound(ctx context.Context, png []byte) (string, error) {
	if !g.Configured() {
		return "", ErrNotConfigured
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(png, "image/png"),
			genai.NewPartFromText(ultrasoundPrompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](1.0),
		TopP:            genai.Ptr[float32](0.95),
		MaxOutputTokens: 8192,
	}

	res, err := g.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		return g.genaiClient.Models.GenerateContent(ctx, ModelName, contents, config)
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}

	text := res.(*genai.GenerateContentResponse).Text()
	slog.Info("Generated ultrasound analysis", "response_length", len(text))
	return text, nil
}
