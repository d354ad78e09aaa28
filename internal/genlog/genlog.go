// Package genlog records every call made to the generation service as one
// JSONL line: the mode, the bound prompt template and arguments, the raw
// response or error, and the latency.
//
// Design constraints:
//   - All Log methods are nil-safe (no-op on nil receiver) so callers never
//     need a nil check before logging.
//   - One file per process session; the log is write-only and never read back
//     by the application.
package genlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventKind labels a single event in the generation log.
type EventKind string

const (
	KindSessionBegin EventKind = "session_begin"
	KindSessionEnd   EventKind = "session_end"
	KindGeneration   EventKind = "generation"
)

// Event is one JSONL line. Fields are omitempty so each event only serialises
// relevant data.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`

	// generation
	Mode      string            `json:"mode,omitempty"` // "create" | "update"
	NextID    int               `json:"next_id,omitempty"`
	Template  string            `json:"template,omitempty"`
	Args      map[string]string `json:"args,omitempty"`
	Response  string            `json:"response,omitempty"`
	Error     string            `json:"error,omitempty"`
	ElapsedMs int64             `json:"elapsed_ms,omitempty"`

	// session_end
	Calls    int   `json:"calls,omitempty"`
	Failures int   `json:"failures,omitempty"`
	TotalMs  int64 `json:"total_ms,omitempty"`
}

// Call is what the generation adapter reports after each invocation.
type Call struct {
	Mode     string
	NextID   int
	Template string
	Args     map[string]string
	Response string
	Err      error
	Elapsed  time.Duration
}

// Stats aggregates the calls recorded so far.
type Stats struct {
	Calls    int   `json:"calls"`
	Failures int   `json:"failures"`
	TotalMs  int64 `json:"total_ms"`
}

// Log is a handle for one session's generation log.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *Log)
//   - Concurrent writes are safe (mutex-protected)
//   - Stats counts every Record call; Failures counts calls with a non-nil Err
type Log struct {
	mu    sync.Mutex
	f     *os.File
	stats Stats
}

// Open creates dir if absent and opens a new session file named after the
// current time. A session_begin event is written as the first line.
// Returns nil (a valid no-op Log) when the file cannot be created.
func Open(dir string) *Log {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("[GENLOG] could not create dir", "dir", dir, "error", err)
		return nil
	}
	name := time.Now().UTC().Format("20060102T150405.000000000") + ".jsonl"
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("[GENLOG] could not open log file", "path", path, "error", err)
		return nil
	}
	l := &Log{f: f}
	l.write(Event{Kind: KindSessionBegin})
	return l
}

// Path returns the file backing the log, or "" for a nil Log.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return ""
	}
	return l.f.Name()
}

// Record appends one generation event and updates the running stats.
func (l *Log) Record(c Call) {
	if l == nil {
		return
	}
	e := Event{
		Kind:      KindGeneration,
		Mode:      c.Mode,
		NextID:    c.NextID,
		Template:  c.Template,
		Args:      c.Args,
		Response:  c.Response,
		ElapsedMs: c.Elapsed.Milliseconds(),
	}
	l.mu.Lock()
	l.stats.Calls++
	l.stats.TotalMs += e.ElapsedMs
	if c.Err != nil {
		l.stats.Failures++
		e.Error = c.Err.Error()
	}
	l.mu.Unlock()
	l.write(e)
}

// Stats returns a snapshot of the counters.
func (l *Log) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Close writes a session_end event carrying the final stats and closes the
// file. Further calls are no-ops.
func (l *Log) Close() {
	if l == nil {
		return
	}
	s := l.Stats()
	l.write(Event{Kind: KindSessionEnd, Calls: s.Calls, Failures: s.Failures, TotalMs: s.TotalMs})

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
}

// write appends one JSON line. Adds timestamp, mutex-protected.
func (l *Log) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("[GENLOG] marshal event", "error", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if _, err = fmt.Fprintf(l.f, "%s\n", data); err != nil {
		slog.Error("[GENLOG] write event", "error", err)
	}
}
