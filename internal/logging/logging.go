// Package logging provides the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is a single ring-buffer record surfaced to the admin surface.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

const maxHistory = 1000

// ringWriter keeps an in-memory log history: the last maxHistory entries
// are kept for GET /stats, independent of where the real log output
// (console or file) goes.
type ringWriter struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *ringWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Timestamp: time.Now(), Message: string(p)})
	if len(r.entries) > maxHistory {
		r.entries = r.entries[len(r.entries)-maxHistory:]
	}
	return len(p), nil
}

func (r *ringWriter) History() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

var (
	ring   = &ringWriter{}
	logger zerolog.Logger
	once   sync.Once
)

// Init wires the global logger. format is "console" or "json"; debug raises
// the minimum level to debug instead of info.
func Init(format string, debug bool) {
	once.Do(func() {
		var out io.Writer = os.Stdout
		if format != "json" {
			out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		}
		level := zerolog.InfoLevel
		if debug {
			level = zerolog.DebugLevel
		}
		multi := zerolog.MultiLevelWriter(out, ring)
		logger = zerolog.New(multi).Level(level).With().Timestamp().Logger()
	})
}

// L returns the global logger, initializing it with defaults if Init was
// never called (useful for tests).
func L() *zerolog.Logger {
	once.Do(func() { Init("console", false) })
	return &logger
}

// History returns a snapshot of the last recorded log entries.
func History() []Entry {
	return ring.History()
}

// SetDebug raises or lowers the minimum logged level at runtime.
func SetDebug(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger = logger.Level(level)
}
