package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newFakeSuno(t *testing.T, readyAfter int32) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/generate":
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			if body["prompt"] != "a lullaby" || body["wait_audio"] != false {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Write([]byte(`[{"id":"a","title":"Lullaby","status":"submitted"},{"id":"b","title":"Lullaby","status":"submitted"}]`))
		case "/api/get":
			if r.URL.Query().Get("ids") != "a,b" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			status := "queued"
			if atomic.AddInt32(&polls, 1) >= readyAfter {
				status = "complete"
			}
			w.Write([]byte(`[{"id":"a","title":"Lullaby","audio_url":"http://cdn/a.mp3","status":"` + status + `"},` +
				`{"id":"b","title":"Lullaby","audio_url":"http://cdn/b.mp3","status":"streaming"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func fastSuno(baseURL string) *SunoService {
	s := NewSunoService(baseURL, "key")
	s.pollInterval = 5 * time.Millisecond
	s.pollTimeout = 100 * time.Millisecond
	return s
}

func TestParseSongs(t *testing.T) {
	songs := ParseSongs([]byte(`[{"id":"x","title":"T","audio_url":"u","image_url":"i","status":"streaming"}]`))
	if len(songs) != 1 || !songs[0].Ready() || songs[0].AudioURL != "u" {
		t.Errorf("songs = %+v", songs)
	}
	if got := ParseSongs([]byte(`[]`)); len(got) != 0 {
		t.Errorf("empty = %+v", got)
	}
}

func TestSunoGeneratePollsUntilReady(t *testing.T) {
	srv, polls := newFakeSuno(t, 3)

	songs, err := fastSuno(srv.URL).Generate(context.Background(), SongRequest{Prompt: "a lullaby"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(songs) != 2 || !songs[0].Ready() || songs[0].AudioURL != "http://cdn/a.mp3" {
		t.Errorf("songs = %+v", songs)
	}
	if got := atomic.LoadInt32(polls); got != 3 {
		t.Errorf("polled %d times, want 3", got)
	}
}

func TestSunoGenerateReturnsPendingOnTimeout(t *testing.T) {
	srv, _ := newFakeSuno(t, 1<<30)

	songs, err := fastSuno(srv.URL).Generate(context.Background(), SongRequest{Prompt: "a lullaby"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(songs) != 2 || songs[0].Ready() {
		t.Errorf("songs = %+v, want unfinished clips", songs)
	}
}

func TestSongEndpoints(t *testing.T) {
	r := chi.NewRouter()
	NewSongEndpoints(NewSunoService("", "")).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, jsonRequest(t, "POST", "/generate-song", SongRequest{Prompt: " "}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty prompt status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, jsonRequest(t, "POST", "/generate-song", SongRequest{Prompt: "a lullaby"}))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status = %d, want 503", rec.Code)
	}
}
