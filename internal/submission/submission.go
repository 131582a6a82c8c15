// Package submission provides the read model of student submissions used by
// the session detail view.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrEmptySessionID is returned when a listing has no session.
var ErrEmptySessionID = errors.New("session id cannot be empty")

// Submission is one piece of work handed in for a session. Submissions are
// created by the submission form; this package only reads them.
type Submission struct {
	ID                string          `json:"id"`
	SessionID         string          `json:"session_id"`
	UserID            *string         `json:"user_id"`
	GuestName         *string         `json:"guest_name"`
	DeviceFingerprint *string         `json:"device_fingerprint"`
	DeviceInfo        json.RawMessage `json:"device_info,omitempty"`
	SubmittedAt       time.Time       `json:"submitted_at"`
}

// Repository lists submissions.
type Repository interface {
	// ListBySession returns the submissions of a session in submission order.
	ListBySession(ctx context.Context, sessionID string) ([]*Submission, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu          sync.RWMutex
	submissions []*Submission
}

// NewInMemoryRepository creates a new in-memory submission repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Add stores a copy of the submission.
func (r *InMemoryRepository) Add(s Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, &s)
}

// ListBySession returns copies of the session's submissions, oldest first.
func (r *InMemoryRepository) ListBySession(_ context.Context, sessionID string) ([]*Submission, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Submission
	for _, s := range r.submissions {
		if s.SessionID != sessionID {
			continue
		}
		c := *s
		results = append(results, &c)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SubmittedAt.Before(results[j].SubmittedAt)
	})
	return results, nil
}
