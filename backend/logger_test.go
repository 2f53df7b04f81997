/*
 * backend/logger_test.go
 */

package backend

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFormattedLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LogLevelDebug, 10)

	logger.Info("listening", "Server")
	logger.Warn("slow consumer")

	out := buf.String()
	assert.Contains(t, out, "INFO  [Server] listening")
	assert.Contains(t, out, "WARN  slow consumer")

	lines := logger.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "Server", lines[0].Source)
	assert.Empty(t, lines[1].Source)
}

func TestLoggerHonorsThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LogLevelWarn, 10)

	logger.Debug("noise")
	logger.Info("still noise")
	logger.Error("real problem")

	assert.Equal(t, 1, logger.Count())
	assert.Contains(t, buf.String(), "ERROR real problem")
	assert.NotContains(t, buf.String(), "noise")
}

func TestLoggerTailIsBounded(t *testing.T) {
	logger := NewLogger(nil, LogLevelDebug, 5)
	for i := 0; i < 12; i++ {
		logger.Info(fmt.Sprintf("line %d", i))
	}

	lines := logger.Lines()
	require.Len(t, lines, 5)
	assert.Equal(t, "line 7", lines[0].Message)
	assert.Equal(t, "line 11", lines[4].Message)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored")
	assert.Zero(t, logger.Count())
	assert.Empty(t, logger.Lines())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("info"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, LogLevelError, ParseLogLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("bogus"))
}
