package utils

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogInterceptor_NumbersCompleteLines(t *testing.T) {
	var out bytes.Buffer
	li := NewLogInterceptor(&out)

	_, err := li.Write([]byte("first\nsec"))
	require.NoError(t, err)
	_, err = li.Write([]byte("ond\r\nthird"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "line=1 time="))
	assert.True(t, strings.HasSuffix(lines[0], " first"))
	assert.True(t, strings.HasSuffix(lines[1], " second"))

	require.NoError(t, li.Close())
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "line=3 "))
	assert.True(t, strings.HasSuffix(lines[2], " third"))
}

func TestMultiLogHandler_RespectsLevels(t *testing.T) {
	var debugOut, infoOut bytes.Buffer
	debugHandler := slog.NewTextHandler(&debugOut, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&infoOut, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiLogHandler(debugHandler, infoHandler)).With("session", "abc")
	logger.Debug("scan")
	logger.Info("done")

	assert.Contains(t, debugOut.String(), "msg=scan")
	assert.Contains(t, debugOut.String(), "msg=done")
	assert.NotContains(t, infoOut.String(), "msg=scan")
	assert.Contains(t, infoOut.String(), "session=abc")

	h := NewMultiLogHandler(infoHandler)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}
