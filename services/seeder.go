package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maternify/backend/models"
	"github.com/maternify/backend/repository"
	"golang.org/x/crypto/bcrypt"
)

const seedPassword = "password123"

// DatabaseSeeder creates demo accounts for local development.
type DatabaseSeeder struct {
	repo  *repository.GORMRepository
	convs *repository.ConversationRepository
}

func NewDatabaseSeeder(repo *repository.GORMRepository, convs *repository.ConversationRepository) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo, convs: convs}
}

type seedPatient struct {
	user     models.User
	weeksAgo int
	greeting string
}

// SeedDatabase is idempotent: accounts that already exist are left alone.
func (s *DatabaseSeeder) SeedDatabase(ctx context.Context) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	doctor, created, err := s.seedUser(ctx, models.User{
		Email:    "dr.amina@example.com",
		Password: string(hashed),
		FullName: "dr amina okafor",
		Type:     models.UserTypeDoctor,
	})
	if err != nil {
		return err
	}
	if !created {
		slog.Info("Database seeding already completed, skipping")
		return nil
	}

	patients := []seedPatient{
		{
			user:     models.User{Email: "grace@example.com", Password: string(hashed), FullName: "grace mensah", Type: models.UserTypePatient},
			weeksAgo: 12,
			greeting: "Hello doctor, I have a question about my next ultrasound.",
		},
		{
			user:     models.User{Email: "fatou@example.com", Password: string(hashed), FullName: "fatou diallo", Type: models.UserTypePatient},
			weeksAgo: 30,
			greeting: "Good morning, my blood pressure reading was high today.",
		},
	}

	now := time.Now().UTC()
	for _, p := range patients {
		patient, _, err := s.seedUser(ctx, p.user)
		if err != nil {
			slog.Error("Failed to seed patient", "email", p.user.Email, "error", err)
			continue
		}

		info := &models.PregnancyInfo{
			UserID:             patient.ID,
			GynecologistID:     &doctor.ID,
			PregnancyStartDate: now.AddDate(0, 0, -7*p.weeksAgo),
		}
		if err := s.repo.UpsertPregnancyInfo(ctx, info); err != nil {
			slog.Error("Failed to seed pregnancy info", "email", p.user.Email, "error", err)
		}

		msg := &models.GynecologistMessage{
			PatientID:      patient.ID,
			GynecologistID: doctor.ID,
			Content:        p.greeting,
			IsFromPatient:  true,
		}
		if err := s.convs.SaveGynecologistMessage(ctx, msg); err != nil {
			slog.Error("Failed to seed message", "email", p.user.Email, "error", err)
		}
	}

	slog.Info("Database seeding completed successfully", "patients", len(patients))
	return nil
}

// seedUser returns the existing user with that email, or creates it.
func (s *DatabaseSeeder) seedUser(ctx context.Context, user models.User) (*models.User, bool, error) {
	existing, err := s.repo.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return nil, false, fmt.Errorf("error checking user %s: %w", user.Email, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := s.repo.CreateUser(ctx, &user); err != nil {
		return nil, false, fmt.Errorf("failed to create user %s: %w", user.Email, err)
	}
	slog.Info("Created user", "email", user.Email, "type", user.Type)
	return &user, true, nil
}
