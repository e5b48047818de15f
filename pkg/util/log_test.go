package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Sugar().Infow("logger_ready")
}

func TestNewLoggerWithFileCreatesAndWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, err := NewLoggerWithFile(path)
	if err != nil {
		t.Fatalf("NewLoggerWithFile: %v", err)
	}
	logger.Sugar().Infow("logger_file_ready", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "logger_file_ready") {
		t.Errorf("log file missing entry: %q", data)
	}
}
