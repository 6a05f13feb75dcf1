package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maternify/backend/models"
)

func TestMemoryHistoryStore(t *testing.T) {
	store := NewMemoryHistoryStore(time.Hour)
	ctx := context.Background()

	for i := 0; i < maxHistoryTurns+5; i++ {
		if err := store.Append(ctx, "s1", Turn{Role: RoleUser, Content: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := store.Recent(ctx, "s1", 0)
	if len(all) != maxHistoryTurns || all[0].Content != "5" {
		t.Fatalf("history kept %d turns starting at %q", len(all), all[0].Content)
	}

	recent, _ := store.Recent(ctx, "s1", 2)
	if len(recent) != 2 || recent[1].Content != fmt.Sprint(maxHistoryTurns+4) {
		t.Errorf("recent = %+v", recent)
	}

	if other, _ := store.Recent(ctx, "s2", 5); len(other) != 0 {
		t.Errorf("sessions leak: %+v", other)
	}

	store.Clear(ctx, "s1")
	if cleared, _ := store.Recent(ctx, "s1", 0); len(cleared) != 0 {
		t.Errorf("after clear = %+v", cleared)
	}
}

func TestMemoryHistoryStoreConcurrentClear(t *testing.T) {
	store := NewMemoryHistoryStore(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.Append(ctx, "s", Turn{Role: RoleUser, Content: fmt.Sprint(i)})
		}(i)
		go func() {
			defer wg.Done()
			store.Clear(ctx, "s")
		}()
	}
	wg.Wait()

	store.Clear(ctx, "s")
	if left, _ := store.Recent(ctx, "s", 0); len(left) != 0 {
		t.Errorf("after clear = %+v", left)
	}
}

func TestChatbotClearWithoutDatabase(t *testing.T) {
	store := NewMemoryHistoryStore(time.Hour)
	bot := NewChatbotService(NewGroqService("", ""), store, nil)
	ctx := context.Background()

	store.Append(ctx, "user-1", Turn{Role: RoleUser, Content: "hi"})
	if err := bot.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if left, _ := store.Recent(ctx, "user-1", 0); len(left) != 0 {
		t.Errorf("history left = %+v", left)
	}
}

func TestChatbotReplyUsesHistory(t *testing.T) {
	fake := newFakeOpenAI(t, "Nice to meet you, Amina.", "Your name is Amina.")
	_, convs := newTestRepos(t)
	bot := NewChatbotService(NewGroqService("key", fake.baseURL()), NewMemoryHistoryStore(time.Hour), convs)
	ctx := context.Background()

	if got := bot.Reply(ctx, "anon", "", "My name is Amina"); got != "Nice to meet you, Amina." {
		t.Fatalf("first reply = %q", got)
	}
	if got := bot.Reply(ctx, "anon", "", "What is my name?"); got != "Your name is Amina." {
		t.Fatalf("second reply = %q", got)
	}

	prompt := fake.lastPrompt()
	if !strings.Contains(prompt, "Dr. Gyno") || !strings.Contains(prompt, "user: My name is Amina") ||
		!strings.Contains(prompt, "assistant: Nice to meet you, Amina.") {
		t.Errorf("prompt missing context:\n%s", prompt)
	}
}

func TestChatbotFallback(t *testing.T) {
	_, convs := newTestRepos(t)
	bot := NewChatbotService(NewGroqService("", ""), NewMemoryHistoryStore(time.Hour), convs)

	if got := bot.Reply(context.Background(), "s", "", "hello"); got != chatFallbackReply {
		t.Errorf("reply = %q, want fallback", got)
	}
}

func TestChatbotEndpoints(t *testing.T) {
	fake := newFakeOpenAI(t, "Drink plenty of water.")
	repo, convs := newTestRepos(t)
	auth := NewAuthService(repo, testSecret, false)
	bot := NewChatbotService(NewGroqService("key", fake.baseURL()), NewMemoryHistoryStore(time.Hour), convs)

	r := chi.NewRouter()
	NewChatbotEndpoints(bot, convs, auth, false).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, jsonRequest(t, "POST", "/chatbot", ChatRequest{Message: ""}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d", rec.Code)
	}

	// anonymous callers get a session cookie and nothing is persisted
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, jsonRequest(t, "POST", "/chatbot", ChatRequest{Message: "Any tips?"}))
	if rec.Code != http.StatusOK || cookieValue(rec, chatSessionCookie) == "" {
		t.Fatalf("anonymous chat status = %d, cookie %q", rec.Code, cookieValue(rec, chatSessionCookie))
	}
	var reply map[string]string
	decodeBody(t, rec, &reply)
	if reply["content"] != "Drink plenty of water." {
		t.Errorf("reply = %v", reply)
	}

	resp, err := auth.Register(context.Background(), RegisterRequest{
		FullName: "Amina", Email: "amina@example.com", Password: "password123", Type: models.UserTypePatient,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	bearer := "Bearer " + resp.AccessToken

	req := jsonRequest(t, "POST", "/chatbot", ChatRequest{Message: "Is coffee safe?"})
	req.Header.Set("Authorization", bearer)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated chat status = %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/chat/history", nil)
	req.Header.Set("Authorization", bearer)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var history struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	decodeBody(t, rec, &history)
	if len(history.Messages) != 2 || history.Messages[0].IsBot || !history.Messages[1].IsBot {
		t.Fatalf("history = %+v", history.Messages)
	}

	req = httptest.NewRequest("DELETE", "/chat/history", nil)
	req.Header.Set("Authorization", bearer)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}

	stored, err := convs.GetChatHistory(context.Background(), resp.User.ID, 10)
	if err != nil || len(stored) != 0 {
		t.Errorf("after clear = %d messages, %v", len(stored), err)
	}
}
