package submission

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/educode/educode/internal/tracing"
)

// PostgresRepository reads the submissions table.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const listBySessionQuery = `
	SELECT id, session_id, user_id, guest_name, device_fingerprint,
		COALESCE(device_info::text, ''), submitted_at
	FROM submissions
	WHERE session_id = $1
	ORDER BY submitted_at ASC, id ASC
`

// ListBySession returns the submissions of a session, oldest first.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) (_ []*Submission, err error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "submissions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, listBySessionQuery, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var results []*Submission
	for rows.Next() {
		var (
			s    Submission
			info string
		)
		if err := rows.Scan(
			&s.ID,
			&s.SessionID,
			&s.UserID,
			&s.GuestName,
			&s.DeviceFingerprint,
			&info,
			&s.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		if info != "" {
			s.DeviceInfo = []byte(info)
		}
		results = append(results, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submissions: %w", err)
	}

	r.logger.DebugContext(ctx, "listed submissions",
		slog.String("session_id", sessionID),
		slog.Int("count", len(results)))
	return results, nil
}
