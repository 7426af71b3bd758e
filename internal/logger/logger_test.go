package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestComponentAttributes(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	SetLevel("info")

	log := With("component", "engine").With("engine", "e1")
	log.Infof("started %d strategies", 2)
	log.Debugf("hidden")

	out := buf.String()
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "engine=e1")
	assert.Contains(t, out, "started 2 strategies")
	assert.NotContains(t, out, "hidden")
}
