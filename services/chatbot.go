package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maternify/backend/models"
	"github.com/maternify/backend/repository"
	"github.com/sashabaranov/go-openai"
)

const (
	chatFallbackReply = "I'm sorry, I'm having trouble responding right now. Please try again later."
	chatSessionCookie = "chat_session"
	chatHistoryLimit  = 100
)

const chatbotPersona = `You are Dr. Gyno, a friendly and empathetic prenatal care expert. Your role is to provide helpful and accurate information about pregnancy and prenatal care. Always maintain a warm and supportive tone.

Important guidelines:
1. Remember details about the user.
2. Don't assume information that hasn't been explicitly stated.
3. If unsure about any information, ask for clarification politely.
4. Always address the user by their name if you know it.`

// ChatbotService answers prenatal questions with the recent conversation as
// context.
type ChatbotService struct {
	groq    *GroqService
	history HistoryStore
	convs   *repository.ConversationRepository
}

func NewChatbotService(groq *GroqService, history HistoryStore, convs *repository.ConversationRepository) *ChatbotService {
	return &ChatbotService{groq: groq, history: history, convs: convs}
}

// Reply never fails: provider errors turn into the fixed apology. userID is
// empty for anonymous sessions, which are kept out of the database.
func (s *ChatbotService) Reply(ctx context.Context, sessionID, userID, message string) string {
	previous, err := s.history.Recent(ctx, sessionID, maxHistoryTurns)
	if err != nil {
		slog.Warn("Failed to load chat history", "error", err, "session_id", sessionID)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(previous)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: chatbotPersona})
	for _, t := range previous {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	reply, err := s.groq.Complete(ctx, ChatModel, messages, 500, 0.7)
	if err != nil {
		slog.Error("Failed to get chatbot response", "error", err, "session_id", sessionID)
		return chatFallbackReply
	}

	if err := s.history.Append(ctx, sessionID,
		Turn{Role: RoleUser, Content: message},
		Turn{Role: RoleAssistant, Content: reply},
	); err != nil {
		slog.Warn("Failed to store chat history", "error", err, "session_id", sessionID)
	}

	if userID != "" && s.convs != nil {
		now := time.Now().UTC()
		for _, m := range []*models.ChatMessage{
			{UserID: userID, Content: message, Timestamp: now},
			{UserID: userID, Content: reply, IsBot: true, Timestamp: now.Add(time.Millisecond)},
		} {
			if err := s.convs.SaveChatMessage(ctx, m); err != nil {
				slog.Error("Failed to persist chat message", "error", err, "user_id", userID)
			}
		}
	}

	return reply
}

// Clear forgets both the cached context and the persisted messages.
func (s *ChatbotService) Clear(ctx context.Context, userID string) error {
	if err := s.history.Clear(ctx, userID); err != nil {
		return err
	}
	if s.convs == nil {
		return nil
	}
	return s.convs.DeleteChatHistory(ctx, userID)
}

type ChatbotEndpoints struct {
	chatbot *ChatbotService
	convs   *repository.ConversationRepository
	auth    *AuthService
	secure  bool
}

type ChatRequest struct {
	Message string `json:"message"`
}

func NewChatbotEndpoints(chatbot *ChatbotService, convs *repository.ConversationRepository, auth *AuthService, secure bool) *ChatbotEndpoints {
	return &ChatbotEndpoints{chatbot: chatbot, convs: convs, auth: auth, secure: secure}
}

func (e *ChatbotEndpoints) RegisterRoutes(r chi.Router) {
	r.With(e.auth.OptionalMiddleware).Post("/chatbot", e.ChatHandler)

	r.Group(func(r chi.Router) {
		r.Use(e.auth.Middleware)
		r.Get("/chat/history", e.HistoryHandler)
		r.Delete("/chat/history", e.ClearHandler)
	})
}

// sessionID keys history by user when authenticated, otherwise by a cookie
// handed out on the first anonymous message.
func (e *ChatbotEndpoints) sessionID(w http.ResponseWriter, r *http.Request) (string, string) {
	if user, ok := UserFromContext(r.Context()); ok {
		return user.ID, user.ID
	}
	if id := tokenFromCookie(r, chatSessionCookie); id != "" {
		return id, ""
	}

	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     chatSessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   e.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, ""
}

func (e *ChatbotEndpoints) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	sessionID, userID := e.sessionID(w, r)
	reply := e.chatbot.Reply(r.Context(), sessionID, userID, req.Message)
	writeJSON(w, http.StatusOK, map[string]string{"content": reply})
}

func (e *ChatbotEndpoints) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	messages, err := e.convs.GetChatHistory(r.Context(), user.ID, chatHistoryLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (e *ChatbotEndpoints) ClearHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	if err := e.chatbot.Clear(r.Context(), user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared"})
}
