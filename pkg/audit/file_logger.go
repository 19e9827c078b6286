package audit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
)

// FileLogger appends newline-delimited JSON entries to a file. Writes are
// serialized; Close flushes the buffer.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewFileLogger opens (or creates) the log file in append mode.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileLogger{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (l *FileLogger) Log(_ context.Context, entry Entry) error {
	stamp(&entry)

	data, err := entry.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return fmt.Errorf("audit log file is closed")
	}
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return l.writer.Flush()
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return nil
	}
	if err := l.writer.Flush(); err != nil {
		l.file.Close()
		l.writer = nil
		return err
	}
	l.writer = nil
	return l.file.Close()
}
