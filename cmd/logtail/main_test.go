package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/educode/educode/internal/activity"
	"github.com/educode/educode/internal/archive"
)

// syncBuffer is a bytes.Buffer safe for the hub's goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeArchiver struct {
	data []byte
	err  error
}

func (f *fakeArchiver) Archive(_ context.Context, data []byte, format activity.ExportFormat) (*archive.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.data = data
	return &archive.Result{
		Key:       "activity-logs/2026/03/14/x." + string(format),
		URL:       "https://r2.example/educode-exports/activity-logs/2026/03/14/x." + string(format) + "?X-Amz-Signature=abc",
		ExpiresAt: time.Date(2026, 3, 14, 9, 45, 0, 0, time.UTC),
	}, nil
}

func seededRepo(t *testing.T) *activity.InMemoryRepository {
	t.Helper()
	repo := activity.NewInMemoryRepository()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, action := range []string{"AUTH_LOGIN", "NAVIGATION", "SESSION_VIEW"} {
		row, err := activity.NewRow(activity.LogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Action:    action,
			SessionID: "s-1",
		}, activity.EnvironmentProduction)
		if err != nil {
			t.Fatalf("NewRow() error = %v", err)
		}
		if _, err := repo.Insert(context.Background(), row); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	return repo
}

func TestParseExportFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    activity.ExportFormat
		archive bool
		wantErr bool
	}{
		{"defaults", nil, activity.ExportFormatCSV, false, false},
		{"json archive", []string{"-format", "json", "-archive"}, activity.ExportFormatJSON, true, false},
		{"unknown format", []string{"-format", "xml"}, "", false, true},
		{"unknown flag", []string{"-bogus"}, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, opts, err := parseExportFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseExportFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if opts.Format != tt.want || opts.Archive != tt.archive {
				t.Errorf("parseExportFlags() = %+v, want format %s archive %v", opts, tt.want, tt.archive)
			}
		})
	}
}

func TestParseExportFlags_Since(t *testing.T) {
	_, opts, err := parseExportFlags([]string{"-since", "24h", "-action", "AUTH_"})
	if err != nil {
		t.Fatalf("parseExportFlags() error = %v", err)
	}
	if opts.From.IsZero() || time.Since(opts.From) < 24*time.Hour-time.Minute {
		t.Errorf("From = %v, want about 24h ago", opts.From)
	}
	if opts.ActionPrefix != "AUTH_" {
		t.Errorf("ActionPrefix = %q, want AUTH_", opts.ActionPrefix)
	}
}

func TestRunExport_Stdout(t *testing.T) {
	var out bytes.Buffer
	opts := exportOptions{ExportOptions: activity.ExportOptions{Format: activity.ExportFormatCSV, ActionPrefix: "AUTH_"}}

	if err := runExport(context.Background(), seededRepo(t), opts, nil, &out); err != nil {
		t.Fatalf("runExport() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "AUTH_LOGIN") {
		t.Errorf("export missing AUTH_LOGIN:\n%s", got)
	}
	if strings.Contains(got, "NAVIGATION") {
		t.Errorf("export ignored the action filter:\n%s", got)
	}
}

func TestRunExport_FileAndArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.json")
	store := &fakeArchiver{}
	var out bytes.Buffer
	opts := exportOptions{
		ExportOptions: activity.ExportOptions{Format: activity.ExportFormatJSON},
		Out:           path,
		Archive:       true,
	}

	if err := runExport(context.Background(), seededRepo(t), opts, store, &out); err != nil {
		t.Fatalf("runExport() error = %v", err)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if !bytes.Equal(written, store.data) {
		t.Error("archived data differs from the written file")
	}
	if !strings.Contains(out.String(), "X-Amz-Signature=abc") {
		t.Errorf("stdout = %q, want the download link", out.String())
	}
	if strings.Contains(out.String(), "SESSION_VIEW") {
		t.Error("export body printed to stdout when -out was given")
	}
}

func TestRunExport_ArchiveError(t *testing.T) {
	upstream := errors.New("access denied")
	opts := exportOptions{ExportOptions: activity.ExportOptions{Format: activity.ExportFormatCSV}}

	err := runExport(context.Background(), seededRepo(t), opts, &fakeArchiver{err: upstream}, io.Discard)
	if !errors.Is(err, upstream) {
		t.Errorf("runExport() error = %v, want %v", err, upstream)
	}
}

func TestRelayHandler_PrintsPushedEntries(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(newRelayHandler(activity.NewConsole(out, false), logger))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer conn.Close()

	entry := activity.LogEntry{
		Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Action:    "CLASS_CREATE",
		Details:   map[string]any{"classId": "c-1"},
	}
	if err := conn.WriteJSON(entry); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "CLASS_CREATE") {
		if time.Now().After(deadline) {
			t.Fatalf("console output = %q, want the pushed entry", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(out.String(), `"classId":"c-1"`) {
		t.Errorf("console output = %q, want the details line", out.String())
	}
}
