package activity

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// ANSI styles per action domain.
const (
	ansiReset   = "\x1b[0m"
	ansiBold    = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiBlue    = "\x1b[34m"
	ansiGreen   = "\x1b[32m"
	ansiMagenta = "\x1b[35m"
	ansiYellow  = "\x1b[33m"
	ansiCyan    = "\x1b[36m"
)

var domainStyles = map[string]string{
	LabelAuth:       ansiBold + ansiBlue,
	LabelClass:      ansiBold + ansiGreen,
	LabelSession:    ansiBold + ansiMagenta,
	LabelSubmission: ansiBold + ansiYellow,
	LabelFile:       ansiCyan,
	LabelNavigation: ansiDim,
}

// Console writes the human-readable diagnostic lines for each entry.
// Lines from concurrent callers never interleave.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// NewConsole creates a console writing to w. A nil writer means stderr.
func NewConsole(w io.Writer, color bool) *Console {
	if w == nil {
		w = os.Stderr
	}
	return &Console{w: w, color: color}
}

// Print writes the entry line and, when details are present, a second line
// with the raw details.
func (c *Console) Print(entry LogEntry) {
	line := FormatLine(entry)
	if c.color {
		if style, ok := domainStyles[Domain(entry.Action)]; ok {
			line = style + line + ansiReset
		}
	}

	var detailsLine string
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			data = []byte(fmt.Sprintf("%v", entry.Details))
		}
		detailsLine = "    details: " + string(data)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
	if detailsLine != "" {
		fmt.Fprintln(c.w, detailsLine)
	}
}

// FormatLine renders the single-line summary of an entry.
func FormatLine(entry LogEntry) string {
	actor := "anonymous"
	switch {
	case entry.UserEmail != "":
		actor = entry.UserEmail
	case entry.UserID != "":
		actor = entry.UserID
	}
	page := entry.Page
	if page == "" {
		page = "-"
	}
	return fmt.Sprintf("[%s] %s user=%s page=%s",
		entry.Timestamp.Local().Format("15:04:05"), entry.Action, actor, page)
}
