package syncbox

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// DebugLogger provides opt-in debug logging for engine operations.
// When enabled, it logs drain cycles, per-item outcomes, and full error
// details.
type DebugLogger struct {
	mu      sync.Mutex
	enabled bool
	writer  io.Writer
}

// NewDebugLogger creates a new debug logger.
// If logPath is empty, logs to stderr.
func NewDebugLogger(enabled bool, logPath string) (*DebugLogger, error) {
	var writer io.Writer = os.Stderr

	if enabled && logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open debug log: %w", err)
		}
		writer = f
	}

	return &DebugLogger{
		enabled: enabled,
		writer:  writer,
	}, nil
}

// Close closes the debug logger if it's writing to a file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.writer.(io.Closer); ok && l.writer != os.Stderr {
		return closer.Close()
	}
	return nil
}

// Log writes a debug message if logging is enabled.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || !l.enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(l.writer, "[%s] [SYNCBOX DEBUG] %s\n", timestamp, msg)
}

// LogDrain logs the start or outcome of a drain cycle.
func (l *DebugLogger) LogDrain(phase string, details string) {
	if l == nil || !l.enabled {
		return
	}
	l.Log("DRAIN [%s]: %s", phase, details)
}

// LogItem logs a per-item delivery outcome.
func (l *DebugLogger) LogItem(item *QueueItem, outcome string) {
	if l == nil || !l.enabled {
		return
	}
	l.Log("ITEM %s %s %s/%s seq=%d retry=%d: %s",
		item.ID, item.Operation, item.TableName, item.RecordID,
		item.SequenceNumber, item.RetryCount, outcome)
}

// LogError logs an error with full details.
func (l *DebugLogger) LogError(operation string, err error) {
	if l == nil || !l.enabled {
		return
	}
	l.Log("ERROR [%s]: %v", operation, err)
}
