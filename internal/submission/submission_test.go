package submission

import (
	"context"
	"errors"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestInMemoryRepository_ListBySession(t *testing.T) {
	repo := NewInMemoryRepository()
	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	repo.Add(Submission{ID: "b", SessionID: "s-1", GuestName: strPtr("Bob"), SubmittedAt: base.Add(time.Minute)})
	repo.Add(Submission{ID: "a", SessionID: "s-1", GuestName: strPtr("Alice"), SubmittedAt: base})
	repo.Add(Submission{ID: "c", SessionID: "s-2", GuestName: strPtr("Carl"), SubmittedAt: base})

	got, err := repo.ListBySession(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListBySession() = %d submissions, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("ListBySession() order = [%s %s], want [a b]", got[0].ID, got[1].ID)
	}

	// Returned values are copies.
	got[0].ID = "mutated"
	again, _ := repo.ListBySession(context.Background(), "s-1")
	if again[0].ID != "a" {
		t.Errorf("repository mutated through result: %q", again[0].ID)
	}
}

func TestInMemoryRepository_EmptySession(t *testing.T) {
	repo := NewInMemoryRepository()
	if _, err := repo.ListBySession(context.Background(), ""); !errors.Is(err, ErrEmptySessionID) {
		t.Errorf("ListBySession(\"\") error = %v, want ErrEmptySessionID", err)
	}

	got, err := repo.ListBySession(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListBySession(unknown) = %d submissions, want 0", len(got))
	}
}
