package logutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)

	logger.Debug("Reminder fired", "reminder_id", "r1")
	assert.Contains(t, buf.String(), `"reminder_id":"r1"`)
	assert.Contains(t, buf.String(), `"level":"DEBUG"`)
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "text")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := newLogger(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)

	_, err = newLogger(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
