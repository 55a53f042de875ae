package logging

import (
	"testing"

	"github.com/zulandar/ticketbooth/internal/config"
	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"nonsense", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, err := New(config.LogConfig{Level: tt.level, Encoding: "json"})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !log.Core().Enabled(tt.want) {
				t.Errorf("level %v not enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && log.Core().Enabled(tt.want-1) {
				t.Errorf("level %v enabled, want disabled", tt.want-1)
			}
		})
	}
}

func TestNew_ConsoleEncoding(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "info"}); err != nil {
		t.Fatalf("New: %v", err)
	}
}
