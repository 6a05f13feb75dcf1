package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatMessage is one turn of a conversation with the prenatal chatbot
type ChatMessage struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:uuid;not null;index"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	IsBot     bool      `json:"is_bot" gorm:"default:false"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index"`

	User *User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return nil
}

// GynecologistMessage is a direct message between a patient and her gynecologist
type GynecologistMessage struct {
	ID             string    `json:"id" gorm:"type:uuid;primaryKey"`
	PatientID      string    `json:"patient_id" gorm:"type:uuid;not null;index"`
	GynecologistID string    `json:"gynecologist_id" gorm:"type:uuid;not null;index"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	IsFromPatient  bool      `json:"is_from_patient" gorm:"default:false"`
	Timestamp      time.Time `json:"timestamp" gorm:"not null;index"`
	Read           bool      `json:"read" gorm:"default:false"`

	Patient      *User `json:"-" gorm:"foreignKey:PatientID;references:ID"`
	Gynecologist *User `json:"-" gorm:"foreignKey:GynecologistID;references:ID"`
}

func (GynecologistMessage) TableName() string {
	return "gynecologist_messages"
}

func (m *GynecologistMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return nil
}
