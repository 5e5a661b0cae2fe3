package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conveyorci/conveyor/internal/config"
)

// Logger appends timestamped lines to .conveyor/logs/conveyor.log so users
// can inspect trigger and run activity after the process exits.
type Logger struct {
	file *os.File
	echo bool
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.ConveyorDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "conveyor.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f}, nil
}

// WithEcho mirrors every line to stderr in addition to the log file. Used by
// long-running serve mode so failures are visible on the terminal.
func (l *Logger) WithEcho() *Logger {
	if l == nil {
		return nil
	}
	l.echo = true
	return l
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	line = strings.TrimRight(line, "\n")
	timestamp := time.Now().Format(time.RFC3339)
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, line)
	if l.echo {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", timestamp, line)
	}
}
