package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewWithWriter_JSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "info", FormatJSON)
	require.NoError(t, err)

	log.WithName("store").Info("record saved", "spoke", 3)
	log.V(1).Info("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "record saved", entry["msg"])
	assert.Equal(t, "store", entry["logger"])
	assert.EqualValues(t, 3, entry["spoke"])
}

func TestNewWithWriter_Error(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "error", FormatJSON)
	require.NoError(t, err)

	log.Info("dropped")
	log.Error(errors.New("disk full"), "write failed")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "disk full")
}

func TestNewWithWriter_AutoFormatOnBufferIsJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "", "")
	require.NoError(t, err)
	log.Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewWithWriter_Console(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "debug", FormatConsole)
	require.NoError(t, err)
	log.V(1).Info("verbose line")
	assert.Contains(t, buf.String(), "verbose line")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewWithWriter_UnknownFormat(t *testing.T) {
	t.Parallel()
	_, err := NewWithWriter(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: "INFO", want: zapcore.InfoLevel},
		{in: "debug", want: -1},
		{in: "trace", want: -2},
		{in: "warn", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "3", want: -3},
		{in: "-1", wantErr: true},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
