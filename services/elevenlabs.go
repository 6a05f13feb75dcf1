package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maternify/backend/resilience"
)

const elevenLabsModel = "eleven_multilingual_v2"

type ElevenLabsService struct {
	apiKey  string
	baseURL string
	voiceID string
	client  *http.Client
	guard   *resilience.Guard
}

type ElevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func NewElevenLabsService(apiKey, baseURL, voiceID string) *ElevenLabsService {
	return &ElevenLabsService{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		voiceID: voiceID,
		client:  &http.Client{Timeout: 60 * time.Second},
		guard:   resilience.NewGuard("elevenlabs", 60*time.Second),
	}
}

func (e *ElevenLabsService) Configured() bool {
	return e != nil && e.apiKey != ""
}

// DefaultVoice is the configured voice id.
func (e *ElevenLabsService) DefaultVoice() string {
	return e.voiceID
}

// TextToSpeech returns MP3 audio for text spoken by voiceID, or the
// configured voice when voiceID is empty.
func (e *ElevenLabsService) TextToSpeech(ctx context.Context, text, voiceID string) ([]byte, error) {
	if !e.Configured() {
		return nil, ErrNotConfigured
	}
	if voiceID == "" {
		voiceID = e.voiceID
	}

	jsonData, err := json.Marshal(ElevenLabsRequest{
		Text:    text,
		ModelID: elevenLabsModel,
		VoiceSettings: VoiceSettings{
			Stability:       0.75,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	res, err := e.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, voiceID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")
		req.Header.Set("xi-api-key", e.apiKey)

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to make request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read audio: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &resilience.StatusError{Service: "elevenlabs", StatusCode: resp.StatusCode, Body: string(body)}
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}

	audio := res.([]byte)
	slog.Info("Generated audio from ElevenLabs", "text_length", len(text), "voice_id", voiceID)
	return audio, nil
}
