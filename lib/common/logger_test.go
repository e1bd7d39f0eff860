package common

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for input, expected := range tests {
		level, err := ParseLogLevel(input)
		if err != nil || level != expected {
			t.Errorf("ParseLogLevel(%q) = %v, %v, expected %v", input, level, err, expected)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Errorf("Expected an invalid level to be rejected")
	}
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &dLogLogger{
		name:   "seglog",
		level:  logger.INFO,
		logger: newZapLogger(zapcore.AddSync(&buf)),
	}

	l.Infof("opened %d segments", 3)
	l.Debugf("not logged")
	l.Warningf("careful")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "| INFO  | seglog          | opened 3 segments") {
		t.Errorf("Unexpected line format %q", lines[0])
	}
	if !strings.Contains(lines[1], "| WARN  | seglog          | careful") {
		t.Errorf("Unexpected line format %q", lines[1])
	}
}
