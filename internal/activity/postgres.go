package activity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/educode/educode/internal/tracing"
)

// PostgresRepository implements Repository on the activity_logs table.
// The details column is json (not jsonb) so stored details come back
// exactly as they were written.
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

const insertActivityQuery = `
	INSERT INTO activity_logs (
		id, user_id, user_email, action, details, page,
		user_agent, ip_address, session_id, environment, timestamp
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING created_at
`

// Insert stores a row.
func (r *PostgresRepository) Insert(ctx context.Context, row Row) (_ *StoredRow, err error) {
	if row.Action == "" {
		return nil, ErrEmptyAction
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "activity_logs", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if len(row.Details) == 0 {
		row.Details = emptyDetails
	}

	stored := &StoredRow{ID: uuid.New().String(), Row: row}
	err = r.db.QueryRowContext(ctx, insertActivityQuery,
		stored.ID,
		row.UserID,
		row.UserEmail,
		row.Action,
		string(row.Details),
		row.Page,
		row.UserAgent,
		row.IPAddress,
		row.SessionID,
		string(row.Environment),
		row.Timestamp,
	).Scan(&stored.CreatedAt)
	if err != nil {
		r.logger.Debug("activity insert failed",
			slog.String("action", row.Action),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to insert activity log: %w", err)
	}
	return stored, nil
}

// Query returns matching rows, newest first.
func (r *PostgresRepository) Query(ctx context.Context, f Filter) (_ []*StoredRow, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "activity_logs", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query, args := buildActivityQuery(f)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	var results []*StoredRow
	for rows.Next() {
		var (
			row     StoredRow
			details []byte
			env     string
		)
		if err := rows.Scan(
			&row.ID,
			&row.UserID,
			&row.UserEmail,
			&row.Action,
			&details,
			&row.Page,
			&row.UserAgent,
			&row.IPAddress,
			&row.SessionID,
			&env,
			&row.Timestamp,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		row.Details = details
		row.Environment = Environment(env)
		results = append(results, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity logs: %w", err)
	}
	return results, nil
}

// buildActivityQuery renders the SELECT for a filter with positional args.
func buildActivityQuery(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if !f.From.IsZero() {
		add("timestamp >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp <= ?", f.To)
	}
	if f.ActionPrefix != "" {
		add("action LIKE ?", escapeLike(f.ActionPrefix)+"%")
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}

	var b strings.Builder
	b.WriteString(`SELECT id, user_id, user_email, action, details, page, user_agent,
		ip_address, session_id, environment, timestamp, created_at
		FROM activity_logs`)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY timestamp DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return b.String(), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
