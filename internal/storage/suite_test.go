package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"jobalert/internal/model"
)

func runSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("UserCRUD", func(t *testing.T) { testUserCRUD(t, newStore(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("ResetToken", func(t *testing.T) { testResetToken(t, newStore(t)) })
	t.Run("ConsumeResetToken", func(t *testing.T) { testConsumeResetToken(t, newStore(t)) })
	t.Run("AlertCRUD", func(t *testing.T) { testAlertCRUD(t, newStore(t)) })
	t.Run("ActiveFilter", func(t *testing.T) { testActiveFilter(t, newStore(t)) })
	t.Run("CommitCheck", func(t *testing.T) { testCommitCheck(t, newStore(t)) })
	t.Run("ResetLastChecks", func(t *testing.T) { testResetLastChecks(t, newStore(t)) })
	t.Run("DeleteUserCascades", func(t *testing.T) { testDeleteUserCascades(t, newStore(t)) })
}

func seedUser(t *testing.T, s Storage, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "hash"}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedAlert(t *testing.T, s Storage, userID int64, query string, active bool) *model.Alert {
	t.Helper()
	a := &model.Alert{UserID: userID, Query: query, Location: "Utrecht", Frequency: model.FrequencyDaily, IsActive: active}
	if err := s.CreateAlert(context.Background(), a); err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	return a
}

func testUserCRUD(t *testing.T, s Storage) {
	ctx := context.Background()

	u := &model.User{Email: "  Ruben@Example.COM ", PasswordHash: "hash"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("expected non-zero ID")
	}

	got, err := s.GetUserByEmail(ctx, "ruben@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	want := model.User{ID: u.ID, Email: "ruben@example.com", PasswordHash: "hash"}
	if diff := cmp.Diff(want, *got, cmpopts.IgnoreFields(model.User{}, "CreatedAt")); diff != "" {
		t.Errorf("GetUserByEmail mismatch (-want +got):\n%s", diff)
	}

	got.PasswordHash = "new-hash"
	if err := s.UpdateUser(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q, want new-hash", again.PasswordHash)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("expected 1 user, got %d", len(users))
	}

	if _, err := s.GetUser(ctx, u.ID+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testDuplicateEmail(t *testing.T, s Storage) {
	seedUser(t, s, "dup@example.com")
	err := s.CreateUser(context.Background(), &model.User{Email: "DUP@example.com", PasswordHash: "x"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func testResetToken(t *testing.T, s Storage) {
	ctx := context.Background()
	u := seedUser(t, s, "reset@example.com")

	token := "tok-123"
	expiry := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	u.ResetToken = &token
	u.ResetTokenExpiry = &expiry
	if err := s.UpdateUser(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetUserByResetToken(ctx, token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("ID = %d, want %d", got.ID, u.ID)
	}
	if got.ResetTokenExpiry == nil || !got.ResetTokenExpiry.Equal(expiry) {
		t.Errorf("ResetTokenExpiry = %v, want %v", got.ResetTokenExpiry, expiry)
	}

	got.ResetToken = nil
	got.ResetTokenExpiry = nil
	if err := s.UpdateUser(ctx, got); err != nil {
		t.Fatalf("clear token: %v", err)
	}
	if _, err := s.GetUserByResetToken(ctx, token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after clearing token, got %v", err)
	}
}

func testConsumeResetToken(t *testing.T, s Storage) {
	ctx := context.Background()
	u := seedUser(t, s, "consume@example.com")

	token := "tok-456"
	expiry := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	u.ResetToken = &token
	u.ResetTokenExpiry = &expiry
	if err := s.UpdateUser(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := s.ConsumeResetToken(ctx, token, "new-hash"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q, want new-hash", got.PasswordHash)
	}
	if got.ResetToken != nil || got.ResetTokenExpiry != nil {
		t.Errorf("token not cleared: %v %v", got.ResetToken, got.ResetTokenExpiry)
	}

	// Second use finds no row and leaves the password alone.
	if err := s.ConsumeResetToken(ctx, token, "other-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second consume: expected ErrNotFound, got %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.PasswordHash != "new-hash" {
		t.Errorf("PasswordHash = %q after second consume, want new-hash", got.PasswordHash)
	}
}

func testAlertCRUD(t *testing.T, s Storage) {
	ctx := context.Background()
	u := seedUser(t, s, "owner@example.com")

	before := time.Now().UTC().Add(-time.Second)
	a := &model.Alert{UserID: u.ID, Query: "golang", Location: "Amsterdam", Frequency: model.FrequencyWeekly, IsActive: true}
	if err := s.CreateAlert(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.LastCheckedAt.Before(before) {
		t.Errorf("LastCheckedAt %v should default to creation time", a.LastCheckedAt)
	}

	got, err := s.GetAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := model.Alert{
		ID: a.ID, UserID: u.ID, OwnerEmail: "owner@example.com", Query: "golang",
		Location: "Amsterdam", Frequency: model.FrequencyWeekly, IsActive: true,
	}
	if diff := cmp.Diff(want, *got, ignoreAlertTS, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("GetAlert mismatch (-want +got):\n%s", diff)
	}
	if !got.LastCheckedAt.Equal(a.LastCheckedAt) {
		t.Errorf("LastCheckedAt round trip: got %v, want %v", got.LastCheckedAt, a.LastCheckedAt)
	}

	if err := s.SetAlertActive(ctx, a.ID, false); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, err = s.GetAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsActive {
		t.Error("expected alert to be paused")
	}

	if err := s.DeleteAlert(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetAlert(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetAlertActive(ctx, a.ID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing alert, got %v", err)
	}
}

func testActiveFilter(t *testing.T, s Storage) {
	ctx := context.Background()
	u := seedUser(t, s, "mixed@example.com")
	other := seedUser(t, s, "other@example.com")

	active := seedAlert(t, s, u.ID, "active", true)
	seedAlert(t, s, u.ID, "inactive", false)
	seedAlert(t, s, other.ID, "foreign", true)

	byUser, err := s.ListAlertsByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(byUser) != 2 {
		t.Errorf("expected 2 alerts for user, got %d", len(byUser))
	}

	activeAlerts, err := s.ListActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	var queries []string
	for _, a := range activeAlerts {
		queries = append(queries, a.Query)
	}
	if diff := cmp.Diff([]string{"active", "foreign"}, queries); diff != "" {
		t.Errorf("active queries mismatch (-want +got):\n%s", diff)
	}
	if activeAlerts[0].ID != active.ID {
		t.Errorf("first active alert = %d, want %d", activeAlerts[0].ID, active.ID)
	}
}

func testCommitCheck(t *testing.T, s Storage) {
	ctx := context.Background()
	u := seedUser(t, s, "commit@example.com")
	a := seedAlert(t, s, u.ID, "rust", true)

	checkedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := s.CommitCheck(ctx, a.ID, checkedAt, []string{"id-1", "id-2"}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := s.GetAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastCheckedAt.Equal(checkedAt) {
		t.Errorf("LastCheckedAt = %v, want %v", got.LastCheckedAt, checkedAt)
	}
	if diff := cmp.Diff([]string{"id-1", "id-2"}, got.SentIDs); diff != "" {
		t.Errorf("SentIDs mismatch (-want +got):\n%s", diff)
	}
}

func testResetLastChecks(t *testing.T, s Storage) {
	ctx := context.Background()
	u := seedUser(t, s, "resetall@example.com")
	a := seedAlert(t, s, u.ID, "java", true)
	seedAlert(t, s, u.ID, "kotlin", false)

	at := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	n, err := s.ResetLastChecks(ctx, at)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 2 {
		t.Errorf("reset %d alerts, want 2", n)
	}
	got, err := s.GetAlert(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastCheckedAt.Equal(at) {
		t.Errorf("LastCheckedAt = %v, want %v", got.LastCheckedAt, at)
	}
}

func testDeleteUserCascades(t *testing.T, s Storage) {
	ctx := context.Background()
	u := seedUser(t, s, "gone@example.com")
	keep := seedUser(t, s, "stays@example.com")
	a1 := seedAlert(t, s, u.ID, "one", true)
	a2 := seedAlert(t, s, u.ID, "two", false)
	kept := seedAlert(t, s, keep.ID, "three", true)

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	for _, id := range []int64{a1.ID, a2.ID} {
		if _, err := s.GetAlert(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("alert %d should be deleted with its owner, got %v", id, err)
		}
	}
	if _, err := s.GetAlert(ctx, kept.ID); err != nil {
		t.Errorf("alert of another user should survive: %v", err)
	}
	if err := s.DeleteUser(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPostgresSuite(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runSuite(t, func(t *testing.T) Storage {
		t.Helper()
		ctx := context.Background()
		s, err := NewPostgres(ctx, url)
		if err != nil {
			t.Fatalf("new postgres: %v", err)
		}
		if _, err := s.pool.Exec(ctx, `TRUNCATE alerts, users RESTART IDENTITY CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
