package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, lvl Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(lvl)
	t.Cleanup(func() {
		SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat})
		SetLevel(LevelInfo)
	})
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLog_FieldsAndLevels(t *testing.T) {
	buf := capture(t, LevelInfo)

	Debug("hidden", "k", "v")
	Info("sync completed", "added", 2, "took", 1500*time.Millisecond)
	Error("delivery failed", errors.New("chat unavailable"), "uid", "a")

	got := lines(t, buf)
	require.Len(t, got, 2)

	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, "sync completed", got[0]["message"])
	assert.Equal(t, float64(2), got[0]["added"])
	assert.Equal(t, "1.5s", got[0]["took"])

	assert.Equal(t, "error", got[1]["level"])
	assert.Equal(t, "chat unavailable", got[1]["error"])
	assert.Equal(t, "a", got[1]["uid"])
}

func TestLog_MalformedPairsAreDropped(t *testing.T) {
	buf := capture(t, LevelDebug)

	Warn("odd", "ok", 1, 42, "bad-key", "dangling")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "warn", got[0]["level"])
	assert.Equal(t, float64(1), got[0]["ok"])
	assert.NotContains(t, got[0], "dangling")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" Warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}
