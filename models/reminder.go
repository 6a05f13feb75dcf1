package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Reminder keeps the events extracted from a free-text reminder request
type Reminder struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"type:uuid;index;not null" json:"user_id"`
	Text      string         `gorm:"type:text;not null" json:"text"`
	Language  string         `gorm:"size:20" json:"language"`
	Events    datatypes.JSON `json:"events"`
	CreatedAt time.Time      `json:"created_at"`
}

func (r *Reminder) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
