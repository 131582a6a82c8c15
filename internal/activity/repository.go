package activity

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyAction is returned when a row without an action is inserted.
var ErrEmptyAction = errors.New("action cannot be empty")

// Inserter is the primary delivery sink of the logger.
type Inserter interface {
	// Insert stores a row and returns it with its assigned identity.
	Insert(ctx context.Context, row Row) (*StoredRow, error)
}

// Filter narrows a Query. Zero values mean no constraint.
type Filter struct {
	From         time.Time
	To           time.Time
	ActionPrefix string
	UserID       string
	Limit        int
}

func (f Filter) matches(r *StoredRow) bool {
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	if f.ActionPrefix != "" && !strings.HasPrefix(r.Action, f.ActionPrefix) {
		return false
	}
	if f.UserID != "" && deref(r.UserID) != f.UserID {
		return false
	}
	return true
}

// Repository stores and queries activity rows.
type Repository interface {
	Inserter

	// Query returns rows matching the filter, newest first.
	Query(ctx context.Context, f Filter) ([]*StoredRow, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu   sync.RWMutex
	rows []*StoredRow
}

// NewInMemoryRepository creates a new in-memory activity repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Insert stores a copy of the row.
func (r *InMemoryRepository) Insert(_ context.Context, row Row) (*StoredRow, error) {
	if row.Action == "" {
		return nil, ErrEmptyAction
	}
	if len(row.Details) == 0 {
		row.Details = emptyDetails
	}

	stored := &StoredRow{
		ID:        uuid.New().String(),
		Row:       row,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.rows = append(r.rows, stored)
	r.mu.Unlock()

	rowCopy := *stored
	return &rowCopy, nil
}

// Query returns matching rows, newest timestamp first.
func (r *InMemoryRepository) Query(_ context.Context, f Filter) ([]*StoredRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*StoredRow
	for i := len(r.rows) - 1; i >= 0; i-- {
		if !f.matches(r.rows[i]) {
			continue
		}
		rowCopy := *r.rows[i]
		results = append(results, &rowCopy)
	}

	// Entries can arrive out of order; equal timestamps stay latest insert first.
	slices.SortStableFunc(results, func(a, b *StoredRow) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results, nil
}

// Len returns the number of stored rows.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
