package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusLogger_JSONWithScanID(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogrusLogger("debug", "json", &buf)
	require.NoError(t, err)

	ctx := WithScanID(context.Background(), "scan-1")
	logger.Warn(ctx, "repo %s failed", "foo")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warning", line["level"])
	assert.Equal(t, "repo foo failed", line["msg"])
	assert.Equal(t, "scan-1", line["scan_id"])
}

func TestLogrusLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogrusLogger("error", "text", &buf)
	require.NoError(t, err)

	logger.Info(context.Background(), "hidden")
	assert.Empty(t, buf.String())

	logger.Critical(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "severity=critical")
}

func TestNewLogrusLogger_BadLevel(t *testing.T) {
	_, err := NewLogrusLogger("loud", "text", nil)
	assert.Error(t, err)
}

func TestScanID_Empty(t *testing.T) {
	assert.Equal(t, "", ScanID(context.Background()))
}
