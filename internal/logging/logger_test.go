package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesTaggedJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	t.Setenv("LOG_FILE", path)

	l, err := New("payments", "test", "debug")
	require.NoError(t, err)
	l.Debug("payment_created")
	_ = l.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(strings.Split(string(b), "\n")[0])

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "payment_created", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "payments", entry["service"])
	assert.Equal(t, "test", entry["env"])
	assert.Contains(t, entry, "ts")
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := New("payments", "test", "loud")
	require.Error(t, err)
}
