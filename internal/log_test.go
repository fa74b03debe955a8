package internal

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelError, ParseLogLevel("ERROR"))
	assert.Equal(t, LogLevelTrace, ParseLogLevel("TRACE"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("bogus"))
}

func TestLogger_EventIsStructured(t *testing.T) {
	var buf bytes.Buffer
	SetEventOutput(&buf)
	defer SetEventOutput(&bytes.Buffer{})

	NewLogger(LogLevelError).With("Whitening").Event("regularization applied", "lambda", 1.5e-4)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "regularization applied", rec["msg"])
	assert.Equal(t, "Whitening", rec["component"])
	assert.InDelta(t, 1.5e-4, rec["lambda"], 1e-12)
}
