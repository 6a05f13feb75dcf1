package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"
)

// Languages spoken through Google Translate TTS. English goes to ElevenLabs.
var gttsLanguages = map[string]bool{
	"am": true,
	"sw": true,
	"yo": true,
	"ig": true,
	"ha": true,
	"af": true,
}

type TTSRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Speaker  string `json:"speaker"`
	Gender   string `json:"gender"`
}

// Speaker routes text to the provider that handles its language.
type Speaker struct {
	elevenLabs *ElevenLabsService
	gtts       *GTTSService
	cache      *AudioCache
}

func NewSpeaker(elevenLabs *ElevenLabsService, gtts *GTTSService, cache *AudioCache) *Speaker {
	return &Speaker{elevenLabs: elevenLabs, gtts: gtts, cache: cache}
}

// DetectLanguage returns the ISO 639-1 code of text, "en" when detection is
// unreliable.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return "en"
	}
	if code := info.Lang.Iso6391(); code != "" {
		return code
	}
	return "en"
}

// NormalizeLanguage reduces a BCP 47 tag such as "sw-KE" to its base
// language.
func NormalizeLanguage(tag string) string {
	t, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(tag))
	}
	base, _ := t.Base()
	return base.String()
}

// Supported reports whether lang can be spoken.
func (s *Speaker) Supported(lang string) bool {
	return lang == "en" || gttsLanguages[lang]
}

// Speak returns MP3 audio for text. voice only applies to English.
func (s *Speaker) Speak(ctx context.Context, text, lang, voice string) ([]byte, error) {
	if lang == "en" {
		if voice == "" {
			voice = s.elevenLabs.DefaultVoice()
		}
		return s.cache.GetOrGenerate(ctx, "elevenlabs:"+voice, text, func(ctx context.Context) ([]byte, error) {
			return s.elevenLabs.TextToSpeech(ctx, text, voice)
		})
	}
	return s.cache.GetOrGenerate(ctx, "gtts:"+lang, text, func(ctx context.Context) ([]byte, error) {
		return s.gtts.Speak(ctx, text, lang)
	})
}

type TTSEndpoints struct {
	speaker *Speaker
}

func NewTTSEndpoints(speaker *Speaker) *TTSEndpoints {
	return &TTSEndpoints{speaker: speaker}
}

func (e *TTSEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/text-to-speech", e.SpeakHandler)
}

func (e *TTSEndpoints) SpeakHandler(w http.ResponseWriter, r *http.Request) {
	var req TTSRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}

	lang := DetectLanguage(req.Text)
	if req.Language != "" {
		lang = NormalizeLanguage(req.Language)
	}
	if !e.speaker.Supported(lang) {
		slog.Warn("Unsupported speech language", "language", lang)
		writeError(w, http.StatusBadRequest, "Language not supported")
		return
	}

	voice := ""
	if strings.TrimSpace(req.Speaker) != "" && req.Gender != "" {
		voice = PickVoice(req.Speaker, req.Gender, "")
	}

	audio, err := e.speaker.Speak(r.Context(), req.Text, lang, voice)
	if err != nil {
		slog.Error("Failed to generate speech", "error", err, "language", lang)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", `inline; filename="speech.mp3"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		slog.Error("Failed to write audio response", "error", err)
	}
}
