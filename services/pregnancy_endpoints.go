package services

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maternify/backend/models"
	"github.com/maternify/backend/repository"
)

const dateLayout = "2006-01-02"

type PregnancyEndpoints struct {
	repo *repository.GORMRepository
}

type PregnancyInfoRequest struct {
	PregnancyStartDate string  `json:"pregnancy_start_date"`
	GynecologistID     *string `json:"gynecologist_id"`
}

type PregnancyInfoResponse struct {
	PregnancyStartDate string  `json:"pregnancy_start_date"`
	CurrentWeek        int     `json:"current_week"`
	GynecologistID     *string `json:"gynecologist_id"`
}

func NewPregnancyEndpoints(repo *repository.GORMRepository) *PregnancyEndpoints {
	return &PregnancyEndpoints{repo: repo}
}

func (e *PregnancyEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/pregnancy-info", e.SaveHandler)
	r.Get("/pregnancy-info", e.GetHandler)
}

func pregnancyResponse(info *models.PregnancyInfo) PregnancyInfoResponse {
	return PregnancyInfoResponse{
		PregnancyStartDate: info.PregnancyStartDate.Format(dateLayout),
		CurrentWeek:        info.CurrentWeek(time.Now()),
		GynecologistID:     info.GynecologistID,
	}
}

func (e *PregnancyEndpoints) SaveHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var req PregnancyInfoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	start, err := time.Parse(dateLayout, req.PregnancyStartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "pregnancy_start_date must be YYYY-MM-DD")
		return
	}

	if req.GynecologistID != nil && *req.GynecologistID != "" {
		doctor, err := e.repo.GetUserByID(r.Context(), *req.GynecologistID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if doctor == nil || !doctor.IsDoctor() {
			writeError(w, http.StatusBadRequest, "Unknown gynecologist")
			return
		}
	} else {
		req.GynecologistID = nil
	}

	info := &models.PregnancyInfo{
		UserID:             user.ID,
		GynecologistID:     req.GynecologistID,
		PregnancyStartDate: start,
	}
	if err := e.repo.UpsertPregnancyInfo(r.Context(), info); err != nil {
		slog.Error("Failed to save pregnancy info", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, pregnancyResponse(info))
}

func (e *PregnancyEndpoints) GetHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	info, err := e.repo.GetPregnancyInfo(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "No pregnancy information found")
		return
	}

	writeJSON(w, http.StatusOK, pregnancyResponse(info))
}
