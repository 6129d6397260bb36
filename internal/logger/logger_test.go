package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/denismitr/earthbeat/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(config.LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("heartbeat")
	require.NoError(t, l.Sync())

	line := buf.String()
	assert.NotContains(t, line, "hidden")
	assert.Equal(t, "INFO", gjson.Get(line, "level").String())
	assert.Equal(t, "heartbeat", gjson.Get(line, "msg").String())
	assert.True(t, gjson.Get(line, "timestamp").Exists())
}

func TestNewWithWriter_Invalid(t *testing.T) {
	_, err := NewWithWriter(config.LogConfig{Level: "loud", Format: "json"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter(config.LogConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
