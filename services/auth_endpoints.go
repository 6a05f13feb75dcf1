package services

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maternify/backend/models"
	"github.com/maternify/backend/repository"
)

var avatarExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

type AuthEndpoints struct {
	authService *AuthService
	repo        *repository.GORMRepository
	staticDir   string
	baseURL     string
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID            string    `json:"id"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	Type          string    `json:"type"`
	Avatar        *string   `json:"avatar"`
	PregnancyWeek *int      `json:"pregnancy_week"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func NewAuthEndpoints(authService *AuthService, repo *repository.GORMRepository, staticDir, baseURL string) *AuthEndpoints {
	return &AuthEndpoints{
		authService: authService,
		repo:        repo,
		staticDir:   staticDir,
		baseURL:     baseURL,
	}
}

func (e *AuthEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", e.RegisterHandler)
		r.Post("/login", e.LoginHandler)
		r.Post("/refresh", e.RefreshHandler)

		r.Group(func(r chi.Router) {
			r.Use(e.authService.Middleware)
			r.Get("/user", e.UserHandler)
			r.Post("/logout", e.LogoutHandler)
			r.Post("/avatar", e.AvatarHandler)
		})
	})
}

func (e *AuthEndpoints) userResponse(u *models.User) UserResponse {
	resp := UserResponse{
		ID:            u.ID,
		FullName:      u.FullName,
		Email:         u.Email,
		Type:          u.Type,
		PregnancyWeek: u.CurrentPregnancyWeek(time.Now()),
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	if u.Avatar != "" {
		url := staticURL(e.baseURL, "uploads/"+u.Avatar)
		resp.Avatar = &url
	}
	return resp
}

func (e *AuthEndpoints) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, verrs)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := e.authService.Register(r.Context(), req)
	if errors.Is(err, ErrEmailExists) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"msg": "Email already exists"})
		return
	}
	if err != nil {
		slog.Error("Registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	e.authService.SetAuthCookies(w, resp.AccessToken, resp.RefreshToken, resp.PermanentToken)
	writeJSON(w, http.StatusCreated, map[string]string{
		"access_token": resp.AccessToken,
		"user_type":    resp.User.Type,
	})
}

func (e *AuthEndpoints) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := e.authService.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "Bad email or password"})
		return
	}
	if err != nil {
		slog.Error("Login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	e.authService.SetAuthCookies(w, resp.AccessToken, resp.RefreshToken, resp.PermanentToken)
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": resp.AccessToken,
		"type":         resp.User.Type,
		"full_name":    resp.User.FullName,
	})
}

func (e *AuthEndpoints) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCookie(r, refreshCookie)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "No refresh token provided")
		return
	}

	resp, err := e.authService.RefreshToken(r.Context(), token)
	if err != nil {
		slog.Warn("Token refresh failed", "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	e.authService.SetAuthCookies(w, resp.AccessToken, "", "")
	writeJSON(w, http.StatusOK, map[string]string{"access_token": resp.AccessToken})
}

func (e *AuthEndpoints) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	if err := e.authService.Logout(r.Context(), user.ID); err != nil {
		slog.Error("Logout failed", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	e.authService.ClearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (e *AuthEndpoints) UserHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, e.userResponse(user))
}

// AvatarHandler stores the uploaded picture under <static>/uploads.
func (e *AuthEndpoints) AvatarHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	data, header, err := readUpload(r, "avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if data == nil {
		writeError(w, http.StatusBadRequest, "No avatar provided")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !avatarExtensions[ext] {
		writeError(w, http.StatusBadRequest, "Unsupported image type")
		return
	}

	dir := filepath.Join(e.staticDir, "uploads")
	if err := os.MkdirAll(dir, 0755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	name := uuid.New().String() + ext
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := e.repo.UpdateUserAvatar(r.Context(), user.ID, name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	user.Avatar = name

	slog.Info("Avatar updated", "user_id", user.ID, "size", humanize.Bytes(uint64(len(data))))
	writeJSON(w, http.StatusOK, map[string]string{"avatar": staticURL(e.baseURL, "uploads/"+name)})
}
