//go:build integration

package activity

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// startPostgres runs a disposable PostgreSQL with the up migrations applied.
func startPostgres(t *testing.T) (*sql.DB, string) {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("educode"),
		postgres.WithUsername("educode"),
		postgres.WithPassword("educode"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	files, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	if err != nil || len(files) == 0 {
		t.Fatalf("no migrations found: %v", err)
	}
	sort.Strings(files)
	for _, f := range files {
		stmt, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.ExecContext(ctx, string(stmt)); err != nil {
			t.Fatalf("apply %s: %v", f, err)
		}
	}
	return db, dsn
}

func TestPostgresRepository_Integration(t *testing.T) {
	db, dsn := startPostgres(t)
	repo := NewPostgresRepository(db, newTestLogger())
	ctx := context.Background()

	notified := make(chan *StoredRow, 4)
	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	go func() {
		_ = NewListener(dsn, newTestLogger()).Run(listenCtx, func(row *StoredRow) { notified <- row })
	}()
	// Give the listener time to subscribe.
	time.Sleep(500 * time.Millisecond)

	// Key order and spacing that jsonb would normalize.
	details := []byte(`{"zeta":1,"alpha":{"b":2,"a":1},"dup":"x"}`)
	row, err := NewRow(LogEntry{
		Timestamp: time.Now(),
		UserEmail: "teacher@example.com",
		Action:    ActionClassCreateSuccess,
		Page:      "/classes/new",
		SessionID: "s-1",
	}, EnvironmentPreview)
	if err != nil {
		t.Fatalf("NewRow() error = %v", err)
	}
	row.Details = details

	stored, err := repo.Insert(ctx, row)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if stored.ID == "" || stored.CreatedAt.IsZero() {
		t.Errorf("Insert() returned %+v without identity", stored)
	}

	rows, err := repo.Query(ctx, Filter{ActionPrefix: DomainClass, Limit: 10})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Query() = %d rows, want 1", len(rows))
	}
	if !bytes.Equal(rows[0].Details, details) {
		t.Errorf("details = %s, want %s", rows[0].Details, details)
	}
	if deref(rows[0].UserID) != "" || deref(rows[0].UserEmail) != "teacher@example.com" {
		t.Errorf("identity = (%q, %q)", deref(rows[0].UserID), deref(rows[0].UserEmail))
	}

	select {
	case got := <-notified:
		if got.ID != stored.ID || got.Action != ActionClassCreateSuccess {
			t.Errorf("notification = %+v, want row %s", got, stored.ID)
		}
	case <-time.After(5 * time.Second):
		t.Error("no insert notification received")
	}
}

func TestPostgresRepository_RejectsBadEnvironment(t *testing.T) {
	db, _ := startPostgres(t)
	repo := NewPostgresRepository(db, newTestLogger())

	row, _ := NewRow(LogEntry{Timestamp: time.Now(), Action: ActionAuthLogin}, Environment("staging"))
	if _, err := repo.Insert(context.Background(), row); err == nil {
		t.Error("Insert() with unknown environment should fail the check constraint")
	}
}
