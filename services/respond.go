package services

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/maternify/backend/inference"
	"github.com/maternify/backend/resilience"
)

const maxUploadSize = 32 << 20

// ErrNotConfigured is returned by clients whose API key or endpoint is unset.
var ErrNotConfigured = errors.New("service not configured")

// staticURL builds the public URL of a file stored under the static dir.
func staticURL(base, rel string) string {
	return strings.TrimRight(base, "/") + "/static/" + strings.TrimLeft(rel, "/")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps an outbound failure onto 503 when the dependency is
// missing or tripped, 500 otherwise.
func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, resilience.ErrUnavailable) || errors.Is(err, inference.ErrNotConfigured) || errors.Is(err, ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

// readUpload returns the bytes of the multipart file field, or nil when the
// field is absent or empty.
func readUpload(r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, nil, err
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		return nil, nil, err
	}
	if len(data) == 0 {
		return nil, header, nil
	}
	return data, header, nil
}
