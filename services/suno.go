package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/maternify/backend/resilience"
	"github.com/tidwall/gjson"
)

var errSongsPending = errors.New("songs still generating")

type Song struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	AudioURL string `json:"audio_url"`
	ImageURL string `json:"image_url"`
	Status   string `json:"status"`
}

// Ready reports whether the clip can be played.
func (s Song) Ready() bool {
	return s.Status == "streaming" || s.Status == "complete"
}

type SongRequest struct {
	Prompt           string `json:"prompt"`
	MakeInstrumental bool   `json:"make_instrumental"`
}

// SunoService drives a Suno compatible song generation API.
type SunoService struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	guard        *resilience.Guard
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewSunoService(baseURL, apiKey string) *SunoService {
	return &SunoService{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 60 * time.Second},
		guard:        resilience.NewGuard("suno", 60*time.Second),
		pollInterval: 5 * time.Second,
		pollTimeout:  2 * time.Minute,
	}
}

func (s *SunoService) Configured() bool {
	return s != nil && s.baseURL != ""
}

// ParseSongs reads the clip list returned by both the generate and get
// calls.
func ParseSongs(body []byte) []Song {
	songs := []Song{}
	gjson.ParseBytes(body).ForEach(func(_, clip gjson.Result) bool {
		songs = append(songs, Song{
			ID:       clip.Get("id").String(),
			Title:    clip.Get("title").String(),
			AudioURL: clip.Get("audio_url").String(),
			ImageURL: clip.Get("image_url").String(),
			Status:   clip.Get("status").String(),
		})
		return true
	})
	return songs
}

func (s *SunoService) call(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	res, err := s.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &resilience.StatusError{Service: "suno", StatusCode: resp.StatusCode, Body: string(data)}
		}
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("suno API returned invalid json")
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// Generate submits the prompt and polls until every clip is playable or the
// poll timeout passes.
func (s *SunoService) Generate(ctx context.Context, req SongRequest) ([]Song, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	data, err := s.call(ctx, http.MethodPost, "/api/generate", map[string]interface{}{
		"prompt":            req.Prompt,
		"make_instrumental": req.MakeInstrumental,
		"wait_audio":        false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate song: %w", err)
	}

	songs := ParseSongs(data)
	if len(songs) == 0 {
		return nil, fmt.Errorf("song generation returned no clips")
	}

	ids := make([]string, len(songs))
	for i, song := range songs {
		ids[i] = song.ID
	}
	path := "/api/get?ids=" + url.QueryEscape(strings.Join(ids, ","))

	poll := func() error {
		data, err := s.call(ctx, http.MethodGet, path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if latest := ParseSongs(data); len(latest) > 0 {
			songs = latest
		}
		for _, song := range songs {
			if !song.Ready() {
				return errSongsPending
			}
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.pollInterval), uint64(s.pollTimeout/s.pollInterval)),
		ctx,
	)
	if err := backoff.Retry(poll, policy); err != nil {
		if errors.Is(err, errSongsPending) {
			slog.Warn("Songs not ready before timeout", "ids", ids)
			return songs, nil
		}
		return nil, fmt.Errorf("failed to poll songs: %w", err)
	}

	slog.Info("Songs generated", "count", len(songs))
	return songs, nil
}

type SongEndpoints struct {
	suno *SunoService
}

func NewSongEndpoints(suno *SunoService) *SongEndpoints {
	return &SongEndpoints{suno: suno}
}

func (e *SongEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/generate-song", e.GenerateHandler)
}

func (e *SongEndpoints) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	var req SongRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	songs, err := e.suno.Generate(r.Context(), req)
	if err != nil {
		slog.Error("Song generation failed", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"songs": songs})
}
