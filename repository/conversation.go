package repository

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/maternify/backend/models"
	"gorm.io/gorm"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// SaveChatMessage stores a chatbot turn
func (r *ConversationRepository) SaveChatMessage(ctx context.Context, message *models.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		slog.Error("Failed to save chat message", "error", err, "user_id", message.UserID)
		return fmt.Errorf("failed to save chat message: %w", err)
	}
	return nil
}

// GetChatHistory returns the last limit chatbot turns of a user, oldest first
func (r *ConversationRepository) GetChatHistory(ctx context.Context, userID string, limit int) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit)

	if err := query.Find(&messages).Error; err != nil {
		slog.Error("Failed to get chat history", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// DeleteChatHistory deletes all chatbot turns for a user
func (r *ConversationRepository) DeleteChatHistory(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.ChatMessage{}).Error; err != nil {
		slog.Error("Failed to delete chat history", "error", err, "user_id", userID)
		return fmt.Errorf("failed to delete chat history: %w", err)
	}

	slog.Info("Chat history deleted", "user_id", userID)
	return nil
}

// SaveGynecologistMessage stores a patient/gynecologist message
func (r *ConversationRepository) SaveGynecologistMessage(ctx context.Context, message *models.GynecologistMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		slog.Error("Failed to save gynecologist message", "error", err,
			"patient_id", message.PatientID, "gynecologist_id", message.GynecologistID)
		return fmt.Errorf("failed to save message: %w", err)
	}

	slog.Info("Gynecologist message saved", "message_id", message.ID, "from_patient", message.IsFromPatient)
	return nil
}

// GetGynecologistChat returns every message between a patient and a gynecologist, oldest first
func (r *ConversationRepository) GetGynecologistChat(ctx context.Context, patientID, gynecologistID string) ([]models.GynecologistMessage, error) {
	var messages []models.GynecologistMessage

	if err := r.db.WithContext(ctx).
		Where("patient_id = ? AND gynecologist_id = ?", patientID, gynecologistID).
		Order("timestamp ASC").
		Find(&messages).Error; err != nil {
		slog.Error("Failed to get chat history", "error", err, "patient_id", patientID, "gynecologist_id", gynecologistID)
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}

	return messages, nil
}

// MarkGynecologistChatRead flags the messages addressed to the reader as read
func (r *ConversationRepository) MarkGynecologistChatRead(ctx context.Context, patientID, gynecologistID string, readerIsPatient bool) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.GynecologistMessage{}).
		Where("patient_id = ? AND gynecologist_id = ? AND is_from_patient = ? AND read = ?",
			patientID, gynecologistID, !readerIsPatient, false).
		Update("read", true)
	if result.Error != nil {
		slog.Error("Failed to mark messages read", "error", result.Error, "patient_id", patientID, "gynecologist_id", gynecologistID)
		return 0, fmt.Errorf("failed to mark messages read: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ConversationPage is one page of a gynecologist's inbox
type ConversationPage struct {
	Messages []models.GynecologistMessage
	Total    int64
}

// GetGynecologistConversations returns the latest message of each patient
// conversation, newest first, preloading the patient and her pregnancy.
func (r *ConversationRepository) GetGynecologistConversations(ctx context.Context, gynecologistID string, page, perPage int) (*ConversationPage, error) {
	latest := r.db.
		Model(&models.GynecologistMessage{}).
		Select("patient_id, MAX(timestamp) AS last_message_time").
		Where("gynecologist_id = ?", gynecologistID).
		Group("patient_id")

	var total int64
	if err := r.db.WithContext(ctx).Table("(?) AS latest", latest).Count(&total).Error; err != nil {
		slog.Error("Failed to count conversations", "error", err, "gynecologist_id", gynecologistID)
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	var messages []models.GynecologistMessage
	err := r.db.WithContext(ctx).
		Joins("JOIN (?) AS latest ON latest.patient_id = gynecologist_messages.patient_id AND latest.last_message_time = gynecologist_messages.timestamp", latest).
		Where("gynecologist_messages.gynecologist_id = ?", gynecologistID).
		Order("gynecologist_messages.timestamp DESC").
		Offset(pageOffset(page, perPage)).
		Limit(perPage).
		Preload("Patient").
		Preload("Patient.PregnancyInfo").
		Find(&messages).Error
	if err != nil {
		slog.Error("Failed to get conversations", "error", err, "gynecologist_id", gynecologistID)
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}

	return &ConversationPage{Messages: messages, Total: total}, nil
}

// pageOffset converts a 1-based page into a row offset, clamped to int32.
func pageOffset(page, perPage int) int {
	if page < 1 || perPage < 1 {
		return 0
	}
	if page-1 > math.MaxInt32/perPage {
		return math.MaxInt32
	}
	return (page - 1) * perPage
}
