package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/slipway/slipway/pkg/logger"
)

func TestCreateLogger(t *testing.T) {
	log := logger.CreateLogger("", "info")
	if log == nil {
		t.Fatal("expected logger to be created")
	}
}

func TestCreateLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		message string
	}{
		{"debug", "debug message"},
		{"info", "info message"},
		{"warn", "warning message"},
		{"error", "error message"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.CreateLoggerWithOutput("", tt.level, &buf)

			// Log at different levels - just verify no panic
			log.Debug(tt.message)
			log.Info(tt.message)
			log.Warn(tt.message)
			log.Error(tt.message)

			output := buf.String()
			// At minimum, we should have some output for appropriate levels
			if tt.level != "error" && len(output) > 0 {
				t.Logf("Level %s generated output: %d bytes", tt.level, len(output))
			}
		})
	}
}

func TestLogger_WithOperation(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	opLog := log.WithOperation("build")
	opLog.Info("collecting artifacts")

	output := buf.String()
	if !strings.Contains(output, "build") {
		t.Error("expected operation name in log output")
	}
}

func TestLogger_Success(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Success("artifact published")

	output := buf.String()
	if !strings.Contains(output, "artifact published") {
		t.Error("expected success message in log output")
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Info("test message",
		logger.WithField("key1", "value1"),
		logger.WithField("key2", 42),
	)

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Error("expected message in log output")
	}
}

func TestLogger_MultipleOperations(t *testing.T) {
	var buf bytes.Buffer
	baseLog := logger.CreateLoggerWithOutput("", "info", &buf)

	install := baseLog.WithOperation("install")
	test := baseLog.WithOperation("test")

	install.Info("install message")
	test.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "install") {
		t.Error("expected install operation in output")
	}
	if !strings.Contains(output, "test") {
		t.Error("expected test operation in output")
	}
}

func TestLogger_EmptyOperation(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Info("no operation message")

	output := buf.String()
	if !strings.Contains(output, "no operation message") {
		t.Error("expected message in log output")
	}
}

func TestLogger_ErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "error", &buf)

	log.Debug("should not appear")
	log.Info("should not appear")
	log.Warn("should not appear")
	log.Error("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Error("lower level logs should not appear with error level")
	}
	if !strings.Contains(output, "should appear") {
		t.Error("error level log should appear")
	}
}
