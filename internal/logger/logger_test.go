package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		logAt    slog.Level
		wantLine bool
		wantJSON bool
	}{
		{
			name:     "text handler at info level",
			cfg:      Config{Level: "info", Format: "text"},
			logAt:    slog.LevelInfo,
			wantLine: true,
		},
		{
			name:     "json handler",
			cfg:      Config{Level: "info", Format: "json"},
			logAt:    slog.LevelInfo,
			wantLine: true,
			wantJSON: true,
		},
		{
			name:     "debug suppressed at warn level",
			cfg:      Config{Level: "warn", Format: "text"},
			logAt:    slog.LevelDebug,
			wantLine: false,
		},
		{
			name:     "bad level falls back to info",
			cfg:      Config{Level: "chatty", Format: "text"},
			logAt:    slog.LevelInfo,
			wantLine: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewLogger(tt.cfg, &buf)
			log.Log(context.Background(), tt.logAt, "worker started", "task_id", "t1")

			got := buf.String()
			if tt.wantLine != strings.Contains(got, "worker started") {
				t.Errorf("wantLine=%v but output was %q", tt.wantLine, got)
			}
			if tt.wantJSON && !strings.HasPrefix(strings.TrimSpace(got), "{") {
				t.Errorf("expected JSON output, got %q", got)
			}
		})
	}
}
