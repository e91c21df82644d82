package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the timestamp layout used by every appender.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. zapcore.Core values satisfy this interface.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// ConsoleAppender writes tab separated log lines to an io.Writer.
type ConsoleAppender struct {
	mu      sync.Mutex
	writer  io.Writer
	encoder zapcore.Encoder
}

// NewStdoutAppender creates a colored ConsoleAppender writing to stdout.
func NewStdoutAppender() *ConsoleAppender {
	config := NewEncoderConfig()
	config.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return &ConsoleAppender{writer: os.Stdout, encoder: zapcore.NewConsoleEncoder(config)}
}

// NewWriterAppender creates a ConsoleAppender writing uncolored lines to the given writer.
func NewWriterAppender(writer io.Writer) *ConsoleAppender {
	return &ConsoleAppender{writer: writer, encoder: zapcore.NewConsoleEncoder(NewEncoderConfig())}
}

// Write outputs the log entry.
func (app *ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := app.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	app.mu.Lock()
	defer app.mu.Unlock()
	_, err = app.writer.Write(buf.Bytes())
	return err
}

// Sync flushes the writer if it supports it. Syncing a terminal fails on some platforms, so
// only files are synced.
func (app *ConsoleAppender) Sync() error {
	file, ok := app.writer.(*os.File)
	if !ok || file == os.Stdout || file == os.Stderr {
		return nil
	}
	return file.Sync()
}
