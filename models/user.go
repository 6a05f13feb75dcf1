package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User types
const (
	UserTypePatient = "user"
	UserTypeDoctor  = "doctor"
)

type User struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Avatar    string         `gorm:"size:255" json:"avatar,omitempty"`
	FullName  string         `gorm:"size:100;index" json:"full_name"`
	Email     string         `gorm:"size:120;uniqueIndex;not null" json:"email"`
	Password  string         `gorm:"size:255" json:"-"` // bcrypt hash
	Type      string         `gorm:"size:32;not null;default:'user';check:type IN ('user', 'doctor')" json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	PregnancyInfo   *PregnancyInfo   `gorm:"foreignKey:UserID" json:"pregnancy_info,omitempty"`
	RefreshTokens   []RefreshToken   `gorm:"foreignKey:UserID" json:"-"`
	PermanentTokens []PermanentToken `gorm:"foreignKey:UserID" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// IsDoctor reports whether the user signed up as a gynecologist.
func (u *User) IsDoctor() bool {
	return u.Type == UserTypeDoctor
}

// CurrentPregnancyWeek returns the pregnancy week or nil when no pregnancy
// information is recorded.
func (u *User) CurrentPregnancyWeek(now time.Time) *int {
	if u.PregnancyInfo == nil {
		return nil
	}
	week := u.PregnancyInfo.CurrentWeek(now)
	return &week
}

type RefreshToken struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string         `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time      `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (t *RefreshToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

type PermanentToken struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string         `gorm:"uniqueIndex;not null" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (t *PermanentToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}
