package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultStoryChapters = 5
	maxStoryChapters     = 10
	storyImageTheme      = "African kids with no text in it"
)

var errMissingTopic = errors.New("story topic is empty")

const storyPrompt = `You only generate stories in %[1]s language.
You are a native story generator in %[1]s. Write an original story in %[1]s language for kids in Africa.
Create a story in the %[1]s language with no english translation.
All the chapters should be fully written in %[1]s language.
This story has %[2]d chapters about %[3]s and should be fully written in %[1]s language.
Don't mention any religion in the story.
The story is for kids under 5 years old.
Don't mention the words kids in Africa.`

type StoryRequest struct {
	Topic    string `json:"topic"`
	Chapters int    `json:"chapters"`
	Language string `json:"language"`
}

type StoryResponse struct {
	Story  []string  `json:"story"`
	Images []*string `json:"images"`
	PDFURL string    `json:"pdf_url"`
}

type StoryEndpoints struct {
	groq      *GroqService
	openai    *OpenAIService
	client    *http.Client
	staticDir string
	baseURL   string
}

func NewStoryEndpoints(groq *GroqService, openai *OpenAIService, staticDir, baseURL string) *StoryEndpoints {
	return &StoryEndpoints{
		groq:      groq,
		openai:    openai,
		client:    &http.Client{Timeout: 60 * time.Second},
		staticDir: staticDir,
		baseURL:   baseURL,
	}
}

func (e *StoryEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/generate-story", e.GenerateHandler)
}

func (req *StoryRequest) normalize() error {
	if req.Topic == "" {
		return errMissingTopic
	}
	if req.Chapters == 0 {
		req.Chapters = defaultStoryChapters
	}
	if req.Chapters < 1 || req.Chapters > maxStoryChapters {
		return fmt.Errorf("chapters must be between 1 and %d", maxStoryChapters)
	}
	if req.Language == "" {
		req.Language = "en"
	}
	return nil
}

func (e *StoryEndpoints) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	var req StoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.normalize(); err != nil {
		msg := err.Error()
		if errors.Is(err, errMissingTopic) {
			msg = "Topic is required"
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	story, images, err := e.Generate(r.Context(), req)
	if err != nil {
		slog.Error("Story generation failed", "error", err, "topic", req.Topic)
		writeServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("story_%s_%s.pdf", time.Now().Format("20060102_150405"), uuid.New().String()[:8])
	if err := e.writeStoryPDF(r.Context(), story, images, filepath.Join(e.staticDir, "stories", filename)); err != nil {
		slog.Error("Failed to write story pdf", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StoryResponse{
		Story:  story,
		Images: images,
		PDFURL: staticURL(e.baseURL, "stories/"+filename),
	})
}

// Generate writes the chapters one by one and illustrates each of them. A
// failed illustration leaves a nil entry.
func (e *StoryEndpoints) Generate(ctx context.Context, req StoryRequest) ([]string, []*string, error) {
	story := make([]string, 0, req.Chapters)
	images := make([]*string, 0, req.Chapters)

	for chapter := 1; chapter <= req.Chapters; chapter++ {
		content, err := e.groq.Complete(ctx, ChatModel, []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(storyPrompt, req.Language, chapter, req.Topic)},
		}, 500, 0.7)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to write chapter %d: %w", chapter, err)
		}
		story = append(story, content+"\n\n")

		prompt := fmt.Sprintf("%s theme illustration: Illustration for Chapter %d: %s", storyImageTheme, chapter, content)
		url, err := e.openai.GenerateImage(ctx, prompt)
		if err != nil {
			slog.Warn("Failed to illustrate chapter", "chapter", chapter, "error", err)
			images = append(images, nil)
			continue
		}
		images = append(images, &url)
	}
	return story, images, nil
}

// downloadJPEG fetches an illustration and re-encodes it as JPEG for the pdf.
func (e *StoryEndpoints) downloadJPEG(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned %d", resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeStoryPDF puts each chapter on its own page followed by its picture.
func (e *StoryEndpoints) writeStoryPDF(ctx context.Context, story []string, images []*string, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create stories dir: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for i, text := range story {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "", 12)
		pdf.MultiCell(0, 10, tr(text), "", "L", false)
		pdf.Ln(10)

		if i >= len(images) || images[i] == nil {
			continue
		}
		data, err := e.downloadJPEG(ctx, *images[i])
		if err != nil {
			slog.Warn("Skipping chapter image", "chapter", i+1, "error", err)
			continue
		}
		name := fmt.Sprintf("chapter_%d", i+1)
		opts := fpdf.ImageOptions{ImageType: "JPG", ReadDpi: true}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
		pdf.ImageOptions(name, 10, pdf.GetY(), 180, 0, true, opts, 0, "")
		pdf.Ln(10)
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}
