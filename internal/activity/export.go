package activity

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports rows as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports rows as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ParseExportFormat validates a format name.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case ExportFormatCSV, ExportFormatJSON:
		return f, nil
	case "":
		return ExportFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", s)
	}
}

// ContentType returns the MIME type of the format.
func (f ExportFormat) ContentType() string {
	if f == ExportFormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// ExportOptions configures an export.
type ExportOptions struct {
	Format       ExportFormat
	From         time.Time // inclusive
	To           time.Time // inclusive
	ActionPrefix string
	UserID       string
	Limit        int // 0 = no limit
}

// ExportLogs queries the repository and renders the matching rows.
func ExportLogs(ctx context.Context, repo Repository, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	rows, err := repo.Query(ctx, Filter{
		From:         opts.From,
		To:           opts.To,
		ActionPrefix: opts.ActionPrefix,
		UserID:       opts.UserID,
		Limit:        opts.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	return ExportRows(rows, opts.Format)
}

// ExportRows renders stored rows in the given format.
func ExportRows(rows []*StoredRow, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return rowsToCSV(rows)
	case ExportFormatJSON:
		if rows == nil {
			rows = []*StoredRow{}
		}
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// ExportEntries renders preview buffer entries. They have no datastore
// identity, so they are exported as rows without id or created_at.
func ExportEntries(entries []LogEntry, env Environment, format ExportFormat) ([]byte, error) {
	rows := make([]*StoredRow, 0, len(entries))
	for _, e := range entries {
		row, err := NewRow(e, env)
		if err != nil {
			return nil, err
		}
		rows = append(rows, &StoredRow{Row: row})
	}
	return ExportRows(rows, format)
}

var csvHeader = []string{
	"ID",
	"Timestamp (UTC)",
	"Action",
	"User ID",
	"User Email",
	"Page",
	"Session ID",
	"IP Address",
	"User Agent",
	"Environment",
	"Details",
}

func rowsToCSV(rows []*StoredRow) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range rows {
		details := string(r.Details)
		if details == "" {
			details = string(emptyDetails)
		}
		record := []string{
			r.ID,
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Action,
			deref(r.UserID),
			deref(r.UserEmail),
			deref(r.Page),
			deref(r.SessionID),
			deref(r.IPAddress),
			deref(r.UserAgent),
			string(r.Environment),
			details,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
