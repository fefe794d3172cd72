package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderhaus/storage-sentinel/app/logging"
)

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(
		logging.WithLevel("warn"),
		logging.WithSink(&buf),
	)
	require.NoError(t, err)

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestLogger_InvalidLevel(t *testing.T) {
	_, err := logging.NewLogger(logging.WithLevel("nope"))
	assert.Error(t, err)
}

func TestLogger_VersionField(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewLogger(
		logging.WithSink(&buf),
		logging.WithVersion("v1.2.3"),
	)
	require.NoError(t, err)

	logger.Info().Msg("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "v1.2.3", record["version"])
}
