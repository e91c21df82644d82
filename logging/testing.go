package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender sends each entry to testing.TB.Log so that a line shows up under the test that
// logged it, parallel tests included.
type testAppender struct {
	tb      testing.TB
	encoder zapcore.Encoder
}

// NewTestAppender returns an appender that logs to tb.
func NewTestAppender(tb testing.TB) Appender {
	config := NewEncoderConfig()
	config.SkipLineEnding = true
	return &testAppender{tb: tb, encoder: zapcore.NewConsoleEncoder(config)}
}

func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	buf, err := tapp.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	tapp.tb.Log(buf.String())
	return nil
}

func (tapp *testAppender) Sync() error {
	return nil
}
