// Package health provides health check implementations for the datastores
// behind the activity pipeline.
package health

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// DBChecker checks the PostgreSQL datastore. Besides a ping it can probe
// tables, so a database that is up but not migrated reports unhealthy.
type DBChecker struct {
	db     *sql.DB
	tables []string
}

// NewDBChecker creates a database health checker that probes tables.
func NewDBChecker(db *sql.DB, tables ...string) *DBChecker {
	return &DBChecker{db: db, tables: tables}
}

// HealthCheck pings the database and checks every configured table.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	for _, table := range d.tables {
		query := "SELECT 1 FROM " + pq.QuoteIdentifier(table) + " LIMIT 0"
		rows, err := d.db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("table %s unavailable: %w", table, err)
		}
		_ = rows.Close()
	}
	return nil
}
