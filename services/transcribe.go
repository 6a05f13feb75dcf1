package services

import (
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

type TranscribeEndpoints struct {
	openai *OpenAIService
}

func NewTranscribeEndpoints(openai *OpenAIService) *TranscribeEndpoints {
	return &TranscribeEndpoints{openai: openai}
}

func (e *TranscribeEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/transcribe", e.TranscribeHandler)
}

func (e *TranscribeEndpoints) TranscribeHandler(w http.ResponseWriter, r *http.Request) {
	audio, header, err := readUpload(r, "audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if audio == nil {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}

	filename := ""
	if header != nil {
		filename = header.Filename
	}
	slog.Info("Transcribing audio", "file", filename, "size", humanize.Bytes(uint64(len(audio))))

	text, err := e.openai.Transcribe(r.Context(), filename, audio)
	if err != nil {
		slog.Error("Transcription failed", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
}
