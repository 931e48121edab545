// Package logsink manages the per-task append-only log files.
//
// Every task owns two files: a summary log with one emoji-tagged line
// per notable event, and a detailed log holding full serialized agent
// messages. Writers are newline-terminated and the closer runs exactly
// once per task, on every exit path.
package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Summary line codes. The code leads the line so operators can grep a
// class of events across tasks.
const (
	CodeStart   = "🚀 START"
	CodeTool    = "🔧 TOOL"
	CodeStatus  = "🔄 STATUS"
	CodeRetry   = "🔁 RETRY"
	CodeDone    = "✅ DONE"
	CodeFail    = "❌ FAIL"
	CodeCancel  = "🛑 CANCEL"
	CodeRecover = "♻️ RECOVER"
	CodeWarn    = "⚠️ WARN"
)

// Sink owns the two append-only log files of a single task. File
// descriptors are never shared across tasks.
type Sink struct {
	summaryPath  string
	detailedPath string

	mu        sync.Mutex
	summary   *os.File
	detailed  *os.File
	closeOnce sync.Once
	closeErr  error
}

// Open creates (or re-opens for append) the two log files of a task.
func Open(summaryPath, detailedPath string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(summaryPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	summary, err := os.OpenFile(summaryPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open summary log: %w", err)
	}
	detailed, err := os.OpenFile(detailedPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		summary.Close()
		return nil, fmt.Errorf("failed to open detailed log: %w", err)
	}
	return &Sink{
		summaryPath:  summaryPath,
		detailedPath: detailedPath,
		summary:      summary,
		detailed:     detailed,
	}, nil
}

// SummaryPath returns the summary log location.
func (s *Sink) SummaryPath() string { return s.summaryPath }

// DetailedPath returns the detailed log location.
func (s *Sink) DetailedPath() string { return s.detailedPath }

// Summary appends one tagged event line to the summary log. The line is
// prefixed with a UTC timestamp and always newline-terminated.
func (s *Sink) Summary(code, line string) error {
	stamped := fmt.Sprintf("[%s] %s %s", time.Now().UTC().Format(time.RFC3339), code, line)
	return s.write(s.summary, stamped)
}

// Detail appends a full serialized payload to the detailed log.
func (s *Sink) Detail(payload string) error {
	return s.write(s.detailed, payload)
}

func (s *Sink) write(f *os.File, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f == nil {
		return fmt.Errorf("log sink already closed")
	}
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := f.WriteString(line)
	return err
}

// Close flushes and closes both files. Safe to call from multiple exit
// paths; only the first call takes effect.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.summary != nil {
			if err := s.summary.Close(); err != nil {
				s.closeErr = err
			}
			s.summary = nil
		}
		if s.detailed != nil {
			if err := s.detailed.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
			s.detailed = nil
		}
	})
	return s.closeErr
}
