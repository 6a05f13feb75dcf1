package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxPregnancyWeek caps the derived week; a term pregnancy is 40 weeks.
const MaxPregnancyWeek = 40

// PregnancyInfo holds the single pregnancy record of a patient
type PregnancyInfo struct {
	ID                 string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             string    `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	GynecologistID     *string   `gorm:"type:uuid;index" json:"gynecologist_id,omitempty"`
	PregnancyStartDate time.Time `gorm:"type:date;not null" json:"pregnancy_start_date"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	// Relationships
	User         *User `gorm:"foreignKey:UserID" json:"-"`
	Gynecologist *User `gorm:"foreignKey:GynecologistID" json:"-"`
}

func (p *PregnancyInfo) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// CurrentWeek returns days/7 + 1 counted from the start date, in [1, 40].
func (p *PregnancyInfo) CurrentWeek(now time.Time) int {
	start := dateOnly(p.PregnancyStartDate)
	today := dateOnly(now)
	days := int(today.Sub(start).Hours() / 24)
	if days < 0 {
		return 1
	}
	week := days/7 + 1
	if week > MaxPregnancyWeek {
		return MaxPregnancyWeek
	}
	return week
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
