package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/maternify/backend/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(context.Background(), "sqlite://:memory:", Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := NewGORMRepository(db).AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createUser(t *testing.T, repo *GORMRepository, email, userType string) *models.User {
	t.Helper()
	u := &models.User{Email: email, FullName: email, Password: "x", Type: userType}
	if err := repo.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestUserLookup(t *testing.T) {
	repo := NewGORMRepository(newTestDB(t))
	ctx := context.Background()

	u := createUser(t, repo, "ada@example.com", models.UserTypePatient)
	if u.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := repo.GetUserByEmail(ctx, "ada@example.com")
	if err != nil || got == nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail = %+v, %v", got, err)
	}

	missing, err := repo.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing user, got %+v, %v", missing, err)
	}

	if err := repo.UpdateUserAvatar(ctx, u.ID, "a.png"); err != nil {
		t.Fatalf("UpdateUserAvatar: %v", err)
	}
	got, _ = repo.GetUserByID(ctx, u.ID)
	if got.Avatar != "a.png" {
		t.Errorf("avatar = %q", got.Avatar)
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	repo := NewGORMRepository(newTestDB(t))
	createUser(t, repo, "dup@example.com", models.UserTypePatient)

	err := repo.CreateUser(context.Background(), &models.User{Email: "dup@example.com", Type: models.UserTypePatient})
	if err == nil {
		t.Fatal("expected unique constraint error")
	}
}

func TestTokens(t *testing.T) {
	repo := NewGORMRepository(newTestDB(t))
	ctx := context.Background()
	u := createUser(t, repo, "tok@example.com", models.UserTypePatient)

	if err := repo.CreateRefreshToken(ctx, &models.RefreshToken{UserID: u.ID, Token: "live", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateRefreshToken(ctx, &models.RefreshToken{UserID: u.ID, Token: "stale", ExpiresAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreatePermanentToken(ctx, &models.PermanentToken{UserID: u.ID, Token: "perm"}); err != nil {
		t.Fatal(err)
	}

	if tok, _ := repo.GetRefreshToken(ctx, "live"); tok == nil {
		t.Error("live refresh token not found")
	}
	if tok, _ := repo.GetRefreshToken(ctx, "stale"); tok != nil {
		t.Error("expired refresh token returned")
	}

	if err := repo.DeleteAllUserTokens(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	if tok, _ := repo.GetPermanentToken(ctx, "perm"); tok != nil {
		t.Error("permanent token survived logout")
	}
}

func TestUpsertPregnancyInfo(t *testing.T) {
	repo := NewGORMRepository(newTestDB(t))
	ctx := context.Background()
	u := createUser(t, repo, "mum@example.com", models.UserTypePatient)
	doc := createUser(t, repo, "doc@example.com", models.UserTypeDoctor)

	first := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	created := &models.PregnancyInfo{UserID: u.ID, PregnancyStartDate: first}
	if err := repo.UpsertPregnancyInfo(ctx, created); err != nil {
		t.Fatalf("insert: %v", err)
	}

	second := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	updated := &models.PregnancyInfo{UserID: u.ID, GynecologistID: &doc.ID, PregnancyStartDate: second}
	if err := repo.UpsertPregnancyInfo(ctx, updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != created.ID {
		t.Errorf("updated id = %q, want stored id %q", updated.ID, created.ID)
	}

	var count int64
	repo.DB().Model(&models.PregnancyInfo{}).Where("user_id = ?", u.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected one pregnancy row, got %d", count)
	}

	info, err := repo.GetPregnancyInfo(ctx, u.ID)
	if err != nil || info == nil {
		t.Fatalf("GetPregnancyInfo = %+v, %v", info, err)
	}
	if !info.PregnancyStartDate.Equal(second) {
		t.Errorf("start date = %v, want %v", info.PregnancyStartDate, second)
	}
	if info.GynecologistID == nil || *info.GynecologistID != doc.ID {
		t.Errorf("gynecologist = %v", info.GynecologistID)
	}
	if info.ID != created.ID {
		t.Errorf("stored id = %q, want %q", info.ID, created.ID)
	}

	none, err := repo.GetPregnancyInfo(ctx, doc.ID)
	if err != nil || none != nil {
		t.Errorf("expected nil, nil for doctor, got %+v, %v", none, err)
	}
}

func TestReminders(t *testing.T) {
	repo := NewGORMRepository(newTestDB(t))
	ctx := context.Background()
	u := createUser(t, repo, "rem@example.com", models.UserTypePatient)

	r := &models.Reminder{UserID: u.ID, Text: "take my medicine", Language: "english", Events: datatypes.JSON(`[{"description":"Take my medicine"}]`)}
	if err := repo.CreateReminder(ctx, r); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}

	list, err := repo.GetReminders(ctx, u.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("GetReminders = %v, %v", list, err)
	}
	if string(list[0].Events) != `[{"description":"Take my medicine"}]` {
		t.Errorf("events = %s", list[0].Events)
	}
}

func TestChatHistory(t *testing.T) {
	db := newTestDB(t)
	repo := NewGORMRepository(db)
	convs := NewConversationRepository(db)
	ctx := context.Background()
	u := createUser(t, repo, "chat@example.com", models.UserTypePatient)

	base := time.Now().UTC().Add(-time.Hour)
	for i, content := range []string{"one", "two", "three"} {
		msg := &models.ChatMessage{UserID: u.ID, Content: content, IsBot: i%2 == 1, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := convs.SaveChatMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	last, err := convs.GetChatHistory(ctx, u.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 || last[0].Content != "two" || last[1].Content != "three" {
		t.Errorf("unexpected history %+v", last)
	}

	if err := convs.DeleteChatHistory(ctx, u.ID); err != nil {
		t.Fatal(err)
	}
	all, _ := convs.GetChatHistory(ctx, u.ID, 10)
	if len(all) != 0 {
		t.Errorf("expected empty history, got %d", len(all))
	}
}

func TestGynecologistConversations(t *testing.T) {
	db := newTestDB(t)
	repo := NewGORMRepository(db)
	convs := NewConversationRepository(db)
	ctx := context.Background()

	doc := createUser(t, repo, "doc@example.com", models.UserTypeDoctor)
	alice := createUser(t, repo, "alice@example.com", models.UserTypePatient)
	bea := createUser(t, repo, "bea@example.com", models.UserTypePatient)
	if err := repo.UpsertPregnancyInfo(ctx, &models.PregnancyInfo{UserID: alice.ID, PregnancyStartDate: time.Now().AddDate(0, 0, -30)}); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	msgs := []models.GynecologistMessage{
		{PatientID: alice.ID, GynecologistID: doc.ID, Content: "hello doctor", IsFromPatient: true, Timestamp: base},
		{PatientID: alice.ID, GynecologistID: doc.ID, Content: "hello alice", IsFromPatient: false, Timestamp: base.Add(time.Minute)},
		{PatientID: bea.ID, GynecologistID: doc.ID, Content: "question", IsFromPatient: true, Timestamp: base.Add(2 * time.Minute)},
		{PatientID: alice.ID, GynecologistID: doc.ID, Content: "thanks", IsFromPatient: true, Timestamp: base.Add(3 * time.Minute)},
	}
	for i := range msgs {
		if err := convs.SaveGynecologistMessage(ctx, &msgs[i]); err != nil {
			t.Fatal(err)
		}
	}

	chat, err := convs.GetGynecologistChat(ctx, alice.ID, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chat) != 3 || chat[0].Content != "hello doctor" || chat[2].Content != "thanks" {
		t.Errorf("unexpected chat order %+v", chat)
	}

	page, err := convs.GetGynecologistConversations(ctx, doc.ID, 1, 20)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || len(page.Messages) != 2 {
		t.Fatalf("expected 2 conversations, got total=%d len=%d", page.Total, len(page.Messages))
	}
	if page.Messages[0].Content != "thanks" || page.Messages[1].Content != "question" {
		t.Errorf("unexpected conversation order: %q, %q", page.Messages[0].Content, page.Messages[1].Content)
	}
	if page.Messages[0].Patient == nil || page.Messages[0].Patient.PregnancyInfo == nil {
		t.Error("patient and pregnancy info should be preloaded")
	}

	second, err := convs.GetGynecologistConversations(ctx, doc.ID, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Messages) != 1 || second.Messages[0].Content != "question" {
		t.Errorf("unexpected second page %+v", second.Messages)
	}

	beyond, err := convs.GetGynecologistConversations(ctx, doc.ID, math.MaxInt, 50)
	if err != nil {
		t.Fatalf("huge page: %v", err)
	}
	if len(beyond.Messages) != 0 || beyond.Total != 2 {
		t.Errorf("huge page = %d messages, total %d", len(beyond.Messages), beyond.Total)
	}

	// the doctor reads alice's messages
	n, err := convs.MarkGynecologistChatRead(ctx, alice.ID, doc.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("marked %d messages read, want 2", n)
	}
}

func TestPageOffset(t *testing.T) {
	tests := []struct {
		name          string
		page, perPage int
		want          int
	}{
		{"first page", 1, 20, 0},
		{"third page", 3, 20, 40},
		{"zero page", 0, 20, 0},
		{"negative page", -4, 20, 0},
		{"zero per page", 2, 0, 0},
		{"overflowing page", math.MaxInt, 50, math.MaxInt32},
		{"last int32 page", math.MaxInt32/50 + 1, 50, (math.MaxInt32 / 50) * 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pageOffset(tt.page, tt.perPage); got != tt.want {
				t.Errorf("pageOffset(%d, %d) = %d, want %d", tt.page, tt.perPage, got, tt.want)
			}
		})
	}
}
