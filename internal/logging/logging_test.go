package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DevText(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Service: "demo", Env: EnvDev, InstanceID: "i-1", Output: &buf})

	l.Info("booted", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "msg=booted")
	assert.Contains(t, out, "service=demo")
	assert.Contains(t, out, "instance_id=i-1")
	assert.Contains(t, out, "k=v")
}

func TestNew_ProdStdJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Service: "demo", Env: EnvProd, Backend: BackendStd, Output: &buf})

	l.Info("booted", "k", "v")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), "expected JSON line, got %s", buf.String())
	assert.Equal(t, "booted", m["msg"])
	assert.Equal(t, "prod", m["env"])
	assert.NotEmpty(t, m["instance_id"])
}

func TestNew_ProdZapJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Service: "demo", Env: EnvProd, Output: &buf})

	l.Warn("slow join", "room_id", "5")

	line := strings.TrimSpace(buf.String())
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &m), "expected JSON line, got %s", line)
	assert.Equal(t, "slow join", m["msg"])
	assert.Equal(t, "WARN", m["level"])
	assert.Equal(t, "demo", m["service"])
	assert.Equal(t, "5", m["room_id"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Env: EnvDev, Level: "warn", Output: &buf})

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tcases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}

	for in, expected := range tcases {
		assert.Equal(t, expected, ParseLevel(in), "level for %q", in)
	}
}

func TestDetectEnv(t *testing.T) {
	tcases := map[string]string{
		"production": EnvProd,
		"prod":       EnvProd,
		" Staging ":  EnvStage,
		"":           EnvDev,
		"local":      EnvDev,
	}

	for in, expected := range tcases {
		t.Setenv("APP_ENV", in)
		assert.Equal(t, expected, DetectEnv(), "env for %q", in)
	}
}
