package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessler/taskstation/internal/config"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		name         string
		level        string
		debugVisible bool
	}{
		{name: "debug level shows debug", level: "debug", debugVisible: true},
		{name: "info level hides debug", level: "info", debugVisible: false},
		{name: "warn level hides debug", level: "warn", debugVisible: false},
		{name: "unknown level falls back to info", level: "chatty", debugVisible: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := setup(config.ServerConfig{Port: 8080, LogLevel: tt.level}, &buf)
			require.NoError(t, err)
			require.NotNil(t, logger)

			logger.Debug("debug message")
			if tt.debugVisible {
				assert.Contains(t, buf.String(), "debug message")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestSetupJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := setup(config.ServerConfig{Port: 8080, LogLevel: "info"}, &buf)
	require.NoError(t, err)

	logger.Info("task submitted", "task_id", "abc", "priority", 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "task submitted", record["msg"])
	assert.Equal(t, "abc", record["task_id"])
	assert.Equal(t, float64(1), record["priority"])
}
