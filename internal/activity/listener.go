package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/educode/educode/internal/tracing"
)

// NotifyChannel is the channel the activity_logs insert trigger publishes on.
const NotifyChannel = "activity_logs_inserted"

// Default reconnect bounds for the notification listener.
const (
	DefaultListenerMinReconnect = 10 * time.Second
	DefaultListenerMaxReconnect = time.Minute
	listenerPingInterval        = 90 * time.Second
)

// RowHandler receives each inserted row.
type RowHandler func(row *StoredRow)

// Listener subscribes to row-insert notifications on the activity_logs table.
type Listener struct {
	dsn    string
	logger *slog.Logger
}

// NewListener creates a listener for the database at dsn.
func NewListener(dsn string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{dsn: dsn, logger: logger}
}

// Run listens until ctx is cancelled, calling handle for every notification.
// The subscription is closed before Run returns.
func (l *Listener) Run(ctx context.Context, handle RowHandler) error {
	listener := pq.NewListener(l.dsn, DefaultListenerMinReconnect, DefaultListenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected:
				l.logger.Info("activity listener connected")
			case pq.ListenerEventDisconnected:
				l.logger.Warn("activity listener disconnected", slog.Any("error", err))
			case pq.ListenerEventReconnected:
				l.logger.Info("activity listener reconnected")
			case pq.ListenerEventConnectionAttemptFailed:
				l.logger.Warn("activity listener connection attempt failed", slog.Any("error", err))
			}
		})
	defer func() {
		if err := listener.Close(); err != nil {
			l.logger.Warn("failed to close activity listener", slog.String("error", err.Error()))
		}
	}()

	_, endSpan := tracing.StartDBSpan(ctx, "activity_logs", tracing.DBOperationListen)
	err := listener.Listen(NotifyChannel)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.NotificationChannel():
			// A nil notification follows a reconnect; nothing was lost that
			// we could recover, so just keep listening.
			if n == nil {
				continue
			}
			row, err := DecodeNotification(n.Extra)
			if err != nil {
				l.logger.Warn("failed to decode activity notification", slog.String("error", err.Error()))
				continue
			}
			handle(row)
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Debug("activity listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// DecodeNotification parses a trigger payload. Oversized rows are published
// without details, so Details may be empty.
func DecodeNotification(payload string) (*StoredRow, error) {
	var row StoredRow
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return nil, fmt.Errorf("invalid activity notification: %w", err)
	}
	if row.Action == "" {
		return nil, ErrEmptyAction
	}
	return &row, nil
}
