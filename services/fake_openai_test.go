package services

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeOpenAI serves the subset of the OpenAI API the services call. Chat
// replies are taken from replies in order, repeating the last one.
type fakeOpenAI struct {
	*httptest.Server

	mu       sync.Mutex
	replies  []string
	prompts  []string
	chatFail bool
	imgFail  bool
}

func newFakeOpenAI(t *testing.T, replies ...string) *fakeOpenAI {
	t.Helper()
	f := &fakeOpenAI{replies: replies}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", f.chat)
	mux.HandleFunc("/v1/images/generations", f.images)
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "I feel the baby kicking"})
	})
	mux.HandleFunc("/picture.png", func(w http.ResponseWriter, r *http.Request) {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for x := 0; x < 8; x++ {
			img.Set(x, x, color.RGBA{R: 200, A: 255})
		}
		var buf bytes.Buffer
		png.Encode(&buf, img)
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOpenAI) baseURL() string {
	return f.URL + "/v1"
}

func (f *fakeOpenAI) chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	fail := f.chatFail
	var parts []string
	for _, m := range req.Messages {
		parts = append(parts, m.Role+": "+m.Content)
	}
	f.prompts = append(f.prompts, strings.Join(parts, "\n"))
	reply := ""
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	f.mu.Unlock()

	if fail {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test",
		"choices": []map[string]interface{}{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": reply},
		}},
	})
}

func (f *fakeOpenAI) images(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	fail := f.imgFail
	f.mu.Unlock()
	if fail {
		http.Error(w, `{"error":{"message":"content policy"}}`, http.StatusBadRequest)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"created": 1,
		"data":    []map[string]string{{"url": f.URL + "/picture.png"}},
	})
}

func (f *fakeOpenAI) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}
