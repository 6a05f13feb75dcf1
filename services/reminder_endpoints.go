package services

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maternify/backend/models"
	"github.com/maternify/backend/reminders"
	"github.com/maternify/backend/repository"
	"gorm.io/datatypes"
)

type ReminderRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Save     bool   `json:"save"`
}

type ReminderEndpoints struct {
	extractor *reminders.Extractor
	repo      *repository.GORMRepository
	auth      *AuthService
}

func NewReminderEndpoints(extractor *reminders.Extractor, repo *repository.GORMRepository, auth *AuthService) *ReminderEndpoints {
	return &ReminderEndpoints{extractor: extractor, repo: repo, auth: auth}
}

func (e *ReminderEndpoints) RegisterRoutes(r chi.Router) {
	r.With(e.auth.OptionalMiddleware).Post("/smart-reminders", e.ExtractHandler)
	r.With(e.auth.Middleware).Get("/reminders", e.ListHandler)
}

func (e *ReminderEndpoints) ExtractHandler(w http.ResponseWriter, r *http.Request) {
	var req ReminderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}
	if req.Language == "" {
		req.Language = "english"
	}

	result := e.extractor.Extract(req.Text, req.Language)

	if user, ok := UserFromContext(r.Context()); ok && req.Save && len(result.Events) > 0 {
		events, err := json.Marshal(result.Events)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		reminder := &models.Reminder{
			UserID:   user.ID,
			Text:     req.Text,
			Language: req.Language,
			Events:   datatypes.JSON(events),
		}
		if err := e.repo.CreateReminder(r.Context(), reminder); err != nil {
			slog.Error("Failed to save reminder", "error", err, "user_id", user.ID)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func (e *ReminderEndpoints) ListHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	items, err := e.repo.GetReminders(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []models.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reminders": items})
}
