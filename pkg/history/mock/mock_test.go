package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parrotalk/parrotalk/pkg/history"
)

func TestStore_SaveAccumulatesDurations(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first := history.SessionLog{
		SessionID:             "sess-1",
		UserID:                1,
		Title:                 "Cafe practice",
		TotalDurationSec:      60,
		UserSpeechDurationSec: 20,
		Messages: []history.StoredMessage{
			{Role: "user", Content: "hello"},
		},
	}
	if err := s.SaveSessionLog(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second := first
	second.TotalDurationSec = 30
	second.UserSpeechDurationSec = 10
	second.Messages = []history.StoredMessage{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	if err := s.SaveSessionLog(ctx, second); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.SessionByID(ctx, "sess-1", 1)
	if err != nil {
		t.Fatalf("SessionByID: %v", err)
	}
	if got.TotalDurationSec != 90 {
		t.Errorf("total duration = %v, want accumulated 90", got.TotalDurationSec)
	}
	if got.UserSpeechDurationSec != 30 {
		t.Errorf("user speech = %v, want accumulated 30", got.UserSpeechDurationSec)
	}
	if len(got.Messages) != 2 {
		t.Errorf("messages = %d, want append-only growth to 2", len(got.Messages))
	}
}

func TestStore_ScenarioFieldsFirstWriteKept(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.SaveSessionLog(ctx, history.SessionLog{
		SessionID: "sess-1", UserID: 1, ScenarioPlace: "a cafe",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSessionLog(ctx, history.SessionLog{
		SessionID: "sess-1", UserID: 1, ScenarioPartner: "a barista",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.SessionByID(ctx, "sess-1", 1)
	if err != nil {
		t.Fatalf("SessionByID: %v", err)
	}
	if got.ScenarioPlace != "a cafe" || got.ScenarioPartner != "a barista" {
		t.Errorf("scenario = %q/%q, want both fields retained", got.ScenarioPlace, got.ScenarioPartner)
	}
}

func TestStore_RecentSessionByUser(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		err := s.SaveSessionLog(ctx, history.SessionLog{
			SessionID: id,
			UserID:    1,
			EndedAt:   base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	// Another user's session must not leak in.
	if err := s.SaveSessionLog(ctx, history.SessionLog{
		SessionID: "other-user", UserID: 2, EndedAt: base.Add(48 * time.Hour),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.RecentSessionByUser(ctx, 1)
	if err != nil {
		t.Fatalf("RecentSessionByUser: %v", err)
	}
	if got.SessionID != "new" {
		t.Errorf("recent = %q, want new", got.SessionID)
	}

	if _, err := s.RecentSessionByUser(ctx, 99); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for unknown user", err)
	}
}

func TestStore_SessionByID_WrongUser(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.SaveSessionLog(ctx, history.SessionLog{SessionID: "sess-1", UserID: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.SessionByID(ctx, "sess-1", 2); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for another user's session", err)
	}
}

func TestStore_SoftDeleteExpired(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if err := s.SaveSessionLog(ctx, history.SessionLog{SessionID: "old", UserID: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	now = now.Add(48 * time.Hour)
	if err := s.SaveSessionLog(ctx, history.SessionLog{SessionID: "fresh", UserID: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}

	n, err := s.SoftDeleteExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("SoftDeleteExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	if !s.Deleted("old") || s.Deleted("fresh") {
		t.Errorf("deleted flags: old=%v fresh=%v", s.Deleted("old"), s.Deleted("fresh"))
	}

	// Reads skip soft-deleted sessions; further writes to them are refused.
	if _, err := s.SessionByID(ctx, "old", 1); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("read deleted err = %v, want ErrNotFound", err)
	}
	err = s.SaveSessionLog(ctx, history.SessionLog{SessionID: "old", UserID: 1})
	if !errors.Is(err, history.ErrSessionDeleted) {
		t.Errorf("write deleted err = %v, want ErrSessionDeleted", err)
	}
}

func TestStore_Users(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Kim@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	// Email lookups are case-insensitive, as is duplicate detection.
	got, err := s.UserByEmail(ctx, "kim@EXAMPLE.com")
	if err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("user = %d, want %d", got.ID, u.ID)
	}
	if _, err := s.CreateUser(ctx, "kim@example.com", "hash2"); !errors.Is(err, history.ErrEmailTaken) {
		t.Errorf("duplicate err = %v, want ErrEmailTaken", err)
	}

	if _, err := s.UserByID(ctx, u.ID); err != nil {
		t.Errorf("UserByID: %v", err)
	}
	if _, err := s.UserByID(ctx, 999); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("unknown user err = %v, want ErrNotFound", err)
	}
}

func TestStore_SaveErr(t *testing.T) {
	s := NewStore()
	s.SaveErr = errors.New("disk full")

	err := s.SaveSessionLog(context.Background(), history.SessionLog{SessionID: "sess-1"})
	if !errors.Is(err, s.SaveErr) {
		t.Fatalf("err = %v, want injected error", err)
	}
}
