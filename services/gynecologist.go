package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maternify/backend/models"
	"github.com/maternify/backend/repository"
	ws "github.com/maternify/backend/websocket"
)

const (
	defaultConversationsPerPage = 20
	maxConversationsPerPage     = 100
)

var (
	ErrPeerNotFound = errors.New("peer not found")
	ErrInvalidPeer  = errors.New("messages go between a patient and a gynecologist")
	ErrEmptyMessage = errors.New("message content is empty")
)

type MessageView struct {
	ID            string `json:"id"`
	Content       string `json:"content"`
	Timestamp     string `json:"timestamp"`
	IsFromPatient bool   `json:"is_from_patient"`
	Read          bool   `json:"read"`
}

func messageView(m *models.GynecologistMessage) MessageView {
	return MessageView{
		ID:            m.ID,
		Content:       m.Content,
		Timestamp:     m.Timestamp.UTC().Format(time.RFC3339Nano),
		IsFromPatient: m.IsFromPatient,
		Read:          m.Read,
	}
}

type LastMessage struct {
	Content       string `json:"content"`
	IsFromPatient bool   `json:"is_from_patient"`
	Timestamp     string `json:"timestamp"`
}

type ConversationView struct {
	PatientID       string      `json:"patient_id"`
	PatientName     string      `json:"patient_name"`
	Avatar          *string     `json:"avatar"`
	LastMessage     LastMessage `json:"last_message"`
	PregnancyWeek   *int        `json:"pregnancy_week"`
	LastMessageTime string      `json:"last_message_time"`
}

type ConversationsResponse struct {
	Conversations []ConversationView `json:"conversations"`
	Total         int64              `json:"total"`
	Pages         int                `json:"pages"`
	CurrentPage   int                `json:"current_page"`
}

// GynecologistService carries direct messages between patients and their
// gynecologists and pushes them to the recipient's open connections.
type GynecologistService struct {
	repo    *repository.GORMRepository
	convs   *repository.ConversationRepository
	hub     *ws.Hub
	baseURL string
}

func NewGynecologistService(repo *repository.GORMRepository, convs *repository.ConversationRepository, hub *ws.Hub, baseURL string) *GynecologistService {
	return &GynecologistService{repo: repo, convs: convs, hub: hub, baseURL: baseURL}
}

// participants returns the patient and gynecologist ids of the conversation
// between user and peer.
func participants(user *models.User, peerID string) (patientID, gynecologistID string) {
	if user.IsDoctor() {
		return peerID, user.ID
	}
	return user.ID, peerID
}

func (s *GynecologistService) checkPeer(ctx context.Context, user *models.User, peerID string) error {
	peer, err := s.repo.GetUserByID(ctx, peerID)
	if err != nil {
		return err
	}
	if peer == nil {
		return ErrPeerNotFound
	}
	if peer.IsDoctor() == user.IsDoctor() {
		return ErrInvalidPeer
	}
	return nil
}

// Send stores content from user to peer and delivers it in real time.
func (s *GynecologistService) Send(ctx context.Context, user *models.User, peerID, content string) (*MessageView, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.checkPeer(ctx, user, peerID); err != nil {
		return nil, err
	}

	patientID, gynecologistID := participants(user, peerID)
	msg := &models.GynecologistMessage{
		PatientID:      patientID,
		GynecologistID: gynecologistID,
		Content:        content,
		IsFromPatient:  !user.IsDoctor(),
		Timestamp:      time.Now().UTC(),
	}
	if err := s.convs.SaveGynecologistMessage(ctx, msg); err != nil {
		return nil, err
	}

	view := messageView(msg)
	if s.hub != nil {
		delivered := s.hub.SendToUser(peerID, map[string]interface{}{
			"type":      ws.TypeGynecologistMessage,
			"sender_id": user.ID,
			"message":   view,
		})
		slog.Debug("Message pushed", "message_id", msg.ID, "connections", delivered)
	}
	return &view, nil
}

// History returns the conversation between user and peer, oldest first.
func (s *GynecologistService) History(ctx context.Context, user *models.User, peerID string) ([]MessageView, error) {
	patientID, gynecologistID := participants(user, peerID)
	messages, err := s.convs.GetGynecologistChat(ctx, patientID, gynecologistID)
	if err != nil {
		return nil, err
	}

	views := make([]MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, messageView(&messages[i]))
	}
	return views, nil
}

// MarkRead flags peer's messages to user as read and tells peer.
func (s *GynecologistService) MarkRead(ctx context.Context, user *models.User, peerID string) (int64, error) {
	patientID, gynecologistID := participants(user, peerID)
	n, err := s.convs.MarkGynecologistChatRead(ctx, patientID, gynecologistID, !user.IsDoctor())
	if err != nil {
		return 0, err
	}
	if n > 0 && s.hub != nil {
		s.hub.SendToUser(peerID, map[string]interface{}{
			"type":    ws.TypeRead,
			"peer_id": user.ID,
			"count":   n,
		})
	}
	return n, nil
}

// Conversations lists the latest message of each patient of a gynecologist.
func (s *GynecologistService) Conversations(ctx context.Context, gynecologistID string, page, perPage int) (*ConversationsResponse, error) {
	result, err := s.convs.GetGynecologistConversations(ctx, gynecologistID, page, perPage)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	resp := &ConversationsResponse{
		Conversations: make([]ConversationView, 0, len(result.Messages)),
		Total:         result.Total,
		Pages:         int(math.Ceil(float64(result.Total) / float64(perPage))),
		CurrentPage:   page,
	}
	for _, m := range result.Messages {
		ts := m.Timestamp.UTC().Format(time.RFC3339Nano)
		view := ConversationView{
			PatientID: m.PatientID,
			LastMessage: LastMessage{
				Content:       m.Content,
				IsFromPatient: m.IsFromPatient,
				Timestamp:     ts,
			},
			LastMessageTime: ts,
		}
		if m.Patient != nil {
			view.PatientName = m.Patient.FullName
			view.PregnancyWeek = m.Patient.CurrentPregnancyWeek(now)
			if m.Patient.Avatar != "" {
				url := staticURL(s.baseURL, "uploads/"+m.Patient.Avatar)
				view.Avatar = &url
			}
		}
		resp.Conversations = append(resp.Conversations, view)
	}
	return resp, nil
}

// HandleFrame serves messages sent over a websocket connection.
func (s *GynecologistService) HandleFrame(client *ws.Client, frame ws.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := s.repo.GetUserByID(ctx, client.UserID)
	if err != nil || user == nil {
		client.Reply(map[string]string{"type": ws.TypeError, "error": "Unknown user"})
		return
	}

	switch frame.Type {
	case ws.TypeGynecologistMessage:
		view, err := s.Send(ctx, user, frame.PeerID, frame.Content)
		if err != nil {
			client.Reply(map[string]string{"type": ws.TypeError, "error": err.Error()})
			return
		}
		// echo to the sender's other devices and this one
		s.hub.SendToUser(user.ID, map[string]interface{}{
			"type":      ws.TypeGynecologistMessage,
			"sender_id": user.ID,
			"message":   view,
		})
	case ws.TypeRead:
		if _, err := s.MarkRead(ctx, user, frame.PeerID); err != nil {
			client.Reply(map[string]string{"type": ws.TypeError, "error": err.Error()})
		}
	default:
		slog.Warn("Unknown frame type", "type", frame.Type, "user_id", user.ID)
		client.Reply(map[string]string{"type": ws.TypeError, "error": "Unknown message type"})
	}
}

type GynecologistEndpoints struct {
	service *GynecologistService
}

func NewGynecologistEndpoints(service *GynecologistService) *GynecologistEndpoints {
	return &GynecologistEndpoints{service: service}
}

type SendMessageRequest struct {
	PeerID  string `json:"peer_id"`
	Content string `json:"content"`
}

func (e *GynecologistEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/gynecologist", func(r chi.Router) {
		r.Post("/messages", e.SendHandler)
		r.Get("/messages/{peerID}", e.HistoryHandler)
		r.Post("/messages/{peerID}/read", e.ReadHandler)
		r.Get("/conversations", e.ConversationsHandler)
	})
}

func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPeerNotFound):
		writeError(w, http.StatusNotFound, "Peer not found")
	case errors.Is(err, ErrInvalidPeer):
		writeError(w, http.StatusBadRequest, "Messages go between a patient and a gynecologist")
	case errors.Is(err, ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Content is required")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (e *GynecologistEndpoints) SendHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PeerID == "" {
		writeError(w, http.StatusBadRequest, "peer_id is required")
		return
	}

	view, err := e.service.Send(r.Context(), user, req.PeerID, req.Content)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (e *GynecologistEndpoints) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	messages, err := e.service.History(r.Context(), user, chi.URLParam(r, "peerID"))
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (e *GynecologistEndpoints) ReadHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	n, err := e.service.MarkRead(r.Context(), user, chi.URLParam(r, "peerID"))
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

func (e *GynecologistEndpoints) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	if !user.IsDoctor() {
		writeError(w, http.StatusForbidden, "Only gynecologists have conversations")
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perPage, err := queryInt(r, "per_page", defaultConversationsPerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if perPage > maxConversationsPerPage {
		perPage = maxConversationsPerPage
	}

	resp, err := e.service.Conversations(r.Context(), user.ID, page, perPage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
