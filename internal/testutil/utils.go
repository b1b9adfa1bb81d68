package testutil

import (
	"log/slog"
	"os"
	"testing"
)

func TestLogger(t *testing.T) *slog.Logger {
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h).With("test", t.Name())
}
