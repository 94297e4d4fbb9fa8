package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	for _, mode := range []string{"debug", "release"} {
		l, err := NewLogger(mode, "warn")
		if err != nil {
			t.Fatalf("NewLogger(%s) error = %v", mode, err)
		}
		if l.Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("%s: debug level enabled with level=warn", mode)
		}
		_ = l.Sync()
	}

	if _, err := NewLogger("release", "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
