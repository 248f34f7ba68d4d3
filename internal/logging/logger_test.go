package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONToNestedPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "main", "logs", "chatsyncd.log")

	logger, err := NewWithLevel(path, "main", zapcore.DebugLevel)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	for _, want := range []string{`"msg":"hello"`, `"session":"main"`, `"pid":`, `"ts":`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}
