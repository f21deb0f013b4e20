// Package logging builds the process logger and keeps a short in-memory
// history of recent lines for the operator page.
package logging

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HistorySize is the number of log lines kept for the status page.
const HistorySize = 100

// Options configures the logger.
type Options struct {
	Level     string
	Format    string // "console" or "json"
	Component string
	Writer    io.Writer // defaults to os.Stderr
	History   *History  // optional; receives a plain-text copy of every line
}

// New returns a configured logger.
func New(opt Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stderr
	if opt.Writer != nil {
		w = opt.Writer
	}
	if strings.ToLower(opt.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	if opt.History != nil {
		w = zerolog.MultiLevelWriter(w, zerolog.ConsoleWriter{
			Out:        opt.History,
			NoColor:    true,
			TimeFormat: "15:04:05",
		})
	}

	ctx := zerolog.New(w).Level(ParseLevel(opt.Level)).With().Timestamp()
	if opt.Component != "" {
		ctx = ctx.Str("component", opt.Component)
	}
	return ctx.Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown names are info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// History is an io.Writer that keeps the last N lines written to it.
type History struct {
	mu    sync.Mutex
	lines []string
	next  int
	count int
	part  []byte
}

// NewHistory returns a history holding up to size lines.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{lines: make([]string, size)}
}

// Write appends complete lines; a trailing partial line is held until its newline.
func (h *History) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.part = append(h.part, p...)
	for {
		i := bytes.IndexByte(h.part, '\n')
		if i < 0 {
			break
		}
		h.add(string(h.part[:i]))
		h.part = h.part[i+1:]
	}
	return len(p), nil
}

func (h *History) add(line string) {
	h.lines[h.next] = line
	h.next = (h.next + 1) % len(h.lines)
	if h.count < len(h.lines) {
		h.count++
	}
}

// Lines returns the retained lines, newest first.
func (h *History) Lines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, h.count)
	for i := 1; i <= h.count; i++ {
		idx := (h.next - i + len(h.lines)) % len(h.lines)
		out = append(out, h.lines[idx])
	}
	return out
}
