// Package activity records structured user-action events for EduCode and
// delivers them, best effort, to the remote datastore, the local relay socket
// and a bounded preview buffer.
package activity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Mode is the environment mode derived from the host the logger runs for.
type Mode int

const (
	// ModeHosted is any deployment that is not served from localhost.
	ModeHosted Mode = iota
	// ModeLocalDev is a developer machine (host "localhost").
	ModeLocalDev
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeLocalDev {
		return "LOCAL_DEV"
	}
	return "HOSTED"
}

// Environment returns the datastore environment label for the mode.
func (m Mode) Environment() Environment {
	if m == ModeLocalDev {
		return EnvironmentPreview
	}
	return EnvironmentProduction
}

// ModeForHost derives the mode from a hostname, with or without a port.
func ModeForHost(host string) Mode {
	h := strings.TrimSpace(host)
	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	}
	if strings.EqualFold(h, "localhost") {
		return ModeLocalDev
	}
	return ModeHosted
}

// Environment is the value stored in the environment column of a row.
type Environment string

const (
	EnvironmentPreview    Environment = "preview"
	EnvironmentProduction Environment = "production"
)

// Identity is the optional actor of an action.
type Identity struct {
	ID    string
	Email string
}

// LogEntry is one recorded user action. Entries are built once inside
// Logger.Log and never modified afterwards.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId,omitempty"`
	UserEmail string         `json:"userEmail,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Page      string         `json:"page,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
}

// Row is the shape of an activity_logs row in the remote datastore.
type Row struct {
	UserID      *string         `json:"user_id"`
	UserEmail   *string         `json:"user_email"`
	Action      string          `json:"action"`
	Details     json.RawMessage `json:"details"`
	Page        *string         `json:"page"`
	UserAgent   *string         `json:"user_agent"`
	IPAddress   *string         `json:"ip_address"`
	SessionID   *string         `json:"session_id"`
	Environment Environment     `json:"environment"`
	Timestamp   time.Time       `json:"timestamp"`
}

// StoredRow is a Row after the datastore assigned its identity.
type StoredRow struct {
	ID string `json:"id"`
	Row
	CreatedAt time.Time `json:"created_at"`
}

// emptyDetails is stored when an entry carries no details.
var emptyDetails = json.RawMessage(`{}`)

// ErrDetailsNotObject is returned when details are not a JSON object.
var ErrDetailsNotObject = errors.New("details must be a JSON object")

// MarshalDetails encodes details once. Nil or empty details encode as {}.
func MarshalDetails(details map[string]any) (json.RawMessage, error) {
	if len(details) == 0 {
		return emptyDetails, nil
	}
	return json.Marshal(details)
}

// NewRow maps an entry onto the datastore row shape.
func NewRow(entry LogEntry, env Environment) (Row, error) {
	details, err := MarshalDetails(entry.Details)
	if err != nil {
		return Row{}, fmt.Errorf("failed to marshal details for %s: %w", entry.Action, err)
	}
	return NewRowWithDetails(entry, details, env)
}

// NewRowWithDetails maps an entry onto the row shape with already encoded
// details, stored byte for byte. entry.Details is ignored. Empty or null
// details are stored as {}.
func NewRowWithDetails(entry LogEntry, details json.RawMessage, env Environment) (Row, error) {
	stored, err := objectDetails(details)
	if err != nil {
		return Row{}, fmt.Errorf("invalid details for %s: %w", entry.Action, err)
	}

	return Row{
		UserID:      nullable(entry.UserID),
		UserEmail:   nullable(entry.UserEmail),
		Action:      entry.Action,
		Details:     stored,
		Page:        nullable(entry.Page),
		UserAgent:   nullable(entry.UserAgent),
		IPAddress:   nullable(entry.IPAddress),
		SessionID:   nullable(entry.SessionID),
		Environment: env,
		Timestamp:   entry.Timestamp.UTC(),
	}, nil
}

func objectDetails(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyDetails, nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrDetailsNotObject
	}
	return append(json.RawMessage(nil), trimmed...), nil
}

// DecodeDetails returns a fresh map for encoded details, or nil when they
// are empty or not a JSON object.
func DecodeDetails(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var details map[string]any
	if err := json.Unmarshal(raw, &details); err != nil || len(details) == 0 {
		return nil
	}
	return details
}

// Entry maps a row back to the camelCase entry shape.
// Details that are not a JSON object are dropped.
func (r Row) Entry() LogEntry {
	entry := LogEntry{
		Timestamp: r.Timestamp,
		UserID:    deref(r.UserID),
		UserEmail: deref(r.UserEmail),
		Action:    r.Action,
		Page:      deref(r.Page),
		UserAgent: deref(r.UserAgent),
		IPAddress: deref(r.IPAddress),
		SessionID: deref(r.SessionID),
	}
	entry.Details = DecodeDetails(r.Details)
	return entry
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
