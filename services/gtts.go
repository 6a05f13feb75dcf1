package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maternify/backend/resilience"
	"golang.org/x/time/rate"
)

// gttsChunkSize is the longest text the translate endpoint accepts per call.
const gttsChunkSize = 100

// GTTSService speaks text through the Google Translate TTS endpoint, the
// same protocol gTTS uses.
type GTTSService struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	guard   *resilience.Guard
}

func NewGTTSService(baseURL string) *GTTSService {
	return &GTTSService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		guard:   resilience.NewGuard("gtts", 30*time.Second),
	}
}

// SplitText cuts text into chunks of at most size runes, on word boundaries
// where possible.
func SplitText(text string, size int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, word := range strings.Fields(text) {
		for utf8.RuneCountInString(word) > size {
			flush()
			runes := []rune(word)
			chunks = append(chunks, string(runes[:size]))
			word = string(runes[size:])
		}

		n := utf8.RuneCountInString(current.String())
		if n > 0 && n+1+utf8.RuneCountInString(word) > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	flush()
	return chunks
}

// Speak returns the concatenated MP3 chunks for text in lang.
func (g *GTTSService) Speak(ctx context.Context, text, lang string) ([]byte, error) {
	chunks := SplitText(text, gttsChunkSize)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text to speak")
	}

	var audio []byte
	for i, chunk := range chunks {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		part, err := g.fetch(ctx, chunk, lang, i, len(chunks))
		if err != nil {
			return nil, fmt.Errorf("failed to synthesize chunk %d: %w", i, err)
		}
		audio = append(audio, part...)
	}

	slog.Info("Generated audio from Google TTS", "lang", lang, "chunks", len(chunks))
	return audio, nil
}

func (g *GTTSService) fetch(ctx context.Context, chunk, lang string, idx, total int) ([]byte, error) {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", chunk)
	q.Set("tl", lang)
	q.Set("client", "tw-ob")
	q.Set("ttsspeed", "1")
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(chunk)))

	res, err := g.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/translate_tts?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.Header.Set("Referer", "https://translate.google.com/")

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &resilience.StatusError{Service: "google tts", StatusCode: resp.StatusCode}
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}
