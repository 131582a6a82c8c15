package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/educode/educode/internal/ipaddr"
	"github.com/google/uuid"
)

// Default timeouts for the logger's I/O.
const (
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultBufferTimeout   = time.Second
)

// Relay is the fallback sink used on a developer machine when the datastore
// insert fails. TrySend must not wait for a connection.
type Relay interface {
	TrySend(v any) error
	Close() error
}

// IPSource supplies the cached address of the process. Get returns "" while
// the address is still unknown.
type IPSource interface {
	Get() string
}

// Options configures a Logger. Every dependency is optional.
type Options struct {
	// Host is the host the application is served from; it selects the mode.
	Host string

	// Inserter is the primary delivery sink.
	Inserter Inserter

	// Relay is the LOCAL_DEV fallback sink.
	Relay Relay

	// Buffer is the LOCAL_DEV preview store. Nil means an in-memory buffer.
	Buffer Buffer

	// Console receives the diagnostic lines. Nil means uncolored stderr.
	Console *Console

	// IPSource overrides address discovery.
	IPSource IPSource

	// DisableIPLookup skips address discovery when IPSource is nil.
	DisableIPLookup bool

	// STUNServer is the NAT probe fallback of address discovery.
	// Empty means ipaddr.DefaultSTUNServer.
	STUNServer string

	// UserAgent is recorded on every entry.
	UserAgent string

	// PageFunc returns the current location when Log gets no page.
	PageFunc func() string

	Metrics         *Metrics
	Logger          *slog.Logger
	DeliveryTimeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Logger records user actions. One Logger is created per process and passed
// to its call sites. Log never returns an error and never waits on the
// network.
type Logger struct {
	mode      Mode
	sessionID string
	userAgent string

	inserter Inserter
	relay    Relay
	buffer   Buffer
	console  *Console
	ip       IPSource
	resolver *ipaddr.Resolver
	pageFunc func() string
	metrics  *Metrics
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a logger and starts address discovery in the background.
func New(opts Options) *Logger {
	mode := ModeForHost(opts.Host)

	l := &Logger{
		mode:      mode,
		sessionID: newSessionID(),
		userAgent: opts.UserAgent,
		inserter:  opts.Inserter,
		relay:     opts.Relay,
		buffer:    opts.Buffer,
		console:   opts.Console,
		ip:        opts.IPSource,
		pageFunc:  opts.PageFunc,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		timeout:   opts.DeliveryTimeout,
		now:       opts.Now,
	}
	if l.userAgent == "" {
		l.userAgent = fmt.Sprintf("educode (%s/%s; %s)", runtime.GOOS, runtime.GOARCH, runtime.Version())
	}
	if l.buffer == nil {
		l.buffer = NewMemoryBuffer(DefaultBufferCapacity)
	}
	if l.console == nil {
		l.console = NewConsole(nil, false)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.timeout <= 0 {
		l.timeout = DefaultDeliveryTimeout
	}
	if l.now == nil {
		l.now = time.Now
	}

	if l.ip == nil && !opts.DisableIPLookup {
		l.resolver = ipaddr.NewResolver(ipaddr.DefaultChain(ipaddr.ChainOptions{
			Local:      mode == ModeLocalDev,
			STUNServer: opts.STUNServer,
		}), l.logger)
		l.resolver.Start(context.Background())
		l.ip = l.resolver
	}

	return l
}

// newSessionID returns a time-ordered random identifier.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Mode returns the mode derived from the host.
func (l *Logger) Mode() Mode { return l.mode }

// SessionID returns the process-scoped session identifier.
func (l *Logger) SessionID() string { return l.sessionID }

// Log records an action. The console line is written before Log returns; in
// LOCAL_DEV the entry is also in the preview buffer by then. Delivery to the
// datastore and relay happens in the background.
func (l *Logger) Log(action string, details map[string]any, id *Identity, page string) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("activity logger panic", slog.Any("panic", r), slog.String("action", action))
		}
	}()

	if action == "" {
		l.logger.Warn("activity entry without action dropped")
		return
	}

	entry, row := l.newEntry(action, details, id, page)

	l.console.Print(entry)
	l.metrics.incLogged(Domain(action))

	if l.mode == ModeLocalDev {
		l.store(entry)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("activity logger closed, delivery skipped", slog.String("action", action))
		return
	}
	l.inflight.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.inflight.Done()
		l.deliver(entry, row)
	}()
}

// newEntry builds the entry and its row from a single encoding of details.
// Neither shares memory with the caller's map.
func (l *Logger) newEntry(action string, details map[string]any, id *Identity, page string) (LogEntry, Row) {
	if page == "" && l.pageFunc != nil {
		page = l.pageFunc()
	}
	raw, err := MarshalDetails(details)
	if err != nil {
		l.logger.Warn("activity details not encodable, stored empty",
			slog.String("action", action),
			slog.String("error", err.Error()))
		raw = emptyDetails
	}
	entry := LogEntry{
		Timestamp: l.now().UTC(),
		Action:    action,
		Details:   DecodeDetails(raw),
		Page:      page,
		UserAgent: l.userAgent,
		SessionID: l.sessionID,
	}
	if id != nil {
		entry.UserID = id.ID
		entry.UserEmail = id.Email
	}
	if l.ip != nil {
		entry.IPAddress = l.ip.Get()
	}
	row, err := NewRowWithDetails(entry, raw, l.mode.Environment())
	if err != nil {
		row, _ = NewRowWithDetails(entry, emptyDetails, l.mode.Environment())
	}
	return entry, row
}

func (l *Logger) store(entry LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultBufferTimeout)
	defer cancel()

	if err := l.buffer.Append(ctx, entry); err != nil {
		l.metrics.incBufferErrors()
		l.logger.Warn("failed to store preview entry",
			slog.String("action", entry.Action),
			slog.String("error", err.Error()))
	}
}

// deliver runs the fallback chain for one entry: datastore first, then the
// relay on a developer machine. Failures are reported and dropped.
func (l *Logger) deliver(entry LogEntry, row Row) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("activity delivery panic", slog.Any("panic", r), slog.String("action", entry.Action))
		}
	}()

	start := time.Now()
	defer func() { l.metrics.observeDelivery(time.Since(start).Seconds()) }()

	err := l.insert(row)
	if err == nil {
		l.metrics.incDelivery(SinkDatastore, OutcomeDelivered)
		return
	}
	if errors.Is(err, errNoInserter) {
		l.metrics.incDelivery(SinkDatastore, OutcomeSkipped)
	} else {
		l.metrics.incDelivery(SinkDatastore, OutcomeFailed)
		l.logger.Warn("activity datastore insert failed",
			slog.String("action", entry.Action),
			slog.String("error", err.Error()))
	}

	if l.mode != ModeLocalDev || l.relay == nil {
		l.metrics.incDelivery(SinkNone, OutcomeSkipped)
		return
	}

	if err := l.relay.TrySend(entry); err != nil {
		l.metrics.incDelivery(SinkRelay, OutcomeFailed)
		l.logger.Debug("activity relay send skipped",
			slog.String("action", entry.Action),
			slog.String("error", err.Error()))
		return
	}
	l.metrics.incDelivery(SinkRelay, OutcomeDelivered)
}

var errNoInserter = errors.New("no datastore configured")

func (l *Logger) insert(row Row) error {
	if l.inserter == nil {
		return errNoInserter
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	_, err := l.inserter.Insert(ctx, row)
	return err
}

// PreviewLogs returns the preview buffer, oldest first. Read failures are
// reported and yield an empty result.
func (l *Logger) PreviewLogs(ctx context.Context) []LogEntry {
	entries, err := l.buffer.All(ctx)
	if err != nil {
		l.metrics.incBufferErrors()
		l.logger.WarnContext(ctx, "failed to read preview entries", slog.String("error", err.Error()))
		return []LogEntry{}
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	return entries
}

// ClearPreviewLogs empties the preview buffer.
func (l *Logger) ClearPreviewLogs(ctx context.Context) {
	if err := l.buffer.Clear(ctx); err != nil {
		l.metrics.incBufferErrors()
		l.logger.WarnContext(ctx, "failed to clear preview entries", slog.String("error", err.Error()))
	}
}

// Flush waits for in-flight deliveries or until ctx is done.
func (l *Logger) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting deliveries, waits for in-flight ones and closes the
// relay. Entries logged after Close still reach the console and buffer.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.inflight.Wait()

	if l.resolver != nil {
		l.resolver.Stop()
	}
	if l.relay != nil {
		if err := l.relay.Close(); err != nil {
			return fmt.Errorf("failed to close relay: %w", err)
		}
	}
	return nil
}
