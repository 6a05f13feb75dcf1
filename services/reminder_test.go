package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/maternify/backend/models"
	"github.com/maternify/backend/reminders"
)

func TestSmartReminders(t *testing.T) {
	repo, _ := newTestRepos(t)
	auth := NewAuthService(repo, testSecret, false)

	r := chi.NewRouter()
	NewReminderEndpoints(reminders.NewExtractor(), repo, auth).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, jsonRequest(t, "POST", "/smart-reminders", ReminderRequest{Text: " "}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d", rec.Code)
	}

	text := "I need to take my medicine at 08:30 daily"
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, jsonRequest(t, "POST", "/smart-reminders", ReminderRequest{Text: text, Save: true}))
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	var result reminders.Result
	decodeBody(t, rec, &result)
	if len(result.Events) == 0 {
		t.Fatalf("no events extracted from %q", text)
	}

	resp, err := auth.Register(context.Background(), RegisterRequest{
		FullName: "Grace", Email: "grace@example.com", Password: "password123", Type: models.UserTypePatient,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	bearer := "Bearer " + resp.AccessToken

	req := jsonRequest(t, "POST", "/smart-reminders", ReminderRequest{Text: text, Save: true})
	req.Header.Set("Authorization", bearer)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}

	req = jsonRequest(t, "POST", "/smart-reminders", ReminderRequest{Text: text})
	req.Header.Set("Authorization", bearer)
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/reminders", nil)
	req.Header.Set("Authorization", bearer)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var list struct {
		Reminders []models.Reminder `json:"reminders"`
	}
	decodeBody(t, rec, &list)
	if len(list.Reminders) != 1 || list.Reminders[0].Language != "english" {
		t.Errorf("reminders = %+v", list.Reminders)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/reminders", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous list status = %d", rec.Code)
	}
}

func TestSeedDatabaseIsIdempotent(t *testing.T) {
	repo, convs := newTestRepos(t)
	seeder := NewDatabaseSeeder(repo, convs)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := seeder.SeedDatabase(ctx); err != nil {
			t.Fatalf("SeedDatabase run %d: %v", i, err)
		}
	}

	doctor, err := repo.GetUserByEmail(ctx, "dr.amina@example.com")
	if err != nil || doctor == nil || !doctor.IsDoctor() {
		t.Fatalf("doctor = %+v, %v", doctor, err)
	}

	page, err := convs.GetGynecologistConversations(ctx, doctor.ID, 1, 20)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || len(page.Messages) != 2 {
		t.Errorf("conversations = %d (%d on page), want 2", page.Total, len(page.Messages))
	}

	grace, _ := repo.GetUserByEmail(ctx, "grace@example.com")
	info, err := repo.GetPregnancyInfo(ctx, grace.ID)
	if err != nil || info == nil || info.GynecologistID == nil || *info.GynecologistID != doctor.ID {
		t.Errorf("pregnancy info = %+v, %v", info, err)
	}
	if week := info.CurrentWeek(info.PregnancyStartDate.AddDate(0, 0, 7*12)); week != 13 {
		t.Errorf("week = %d", week)
	}

	auth := NewAuthService(repo, testSecret, false)
	if _, err := auth.Login(ctx, "grace@example.com", seedPassword); err != nil {
		t.Errorf("seeded login: %v", err)
	}
}
