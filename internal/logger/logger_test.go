package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"JSON", Config{Level: "info", Format: "json"}, false},
		{"Console", Config{Level: "debug", Format: "console"}, false},
		{"BadLevel", Config{Level: "loud", Format: "json"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, l.Logger)
		})
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "moltkeeper.log")
	l, err := New(Config{Level: "info", Format: "json", File: &FileConfig{Enabled: true, Path: path}})
	require.NoError(t, err)

	l.WithComponent("vault").WithSession("s1").WithRequestID("r1").Info("Vault saved", zap.Int("entries", 3))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	for _, want := range []string{`"component":"vault"`, `"session_id":"s1"`, `"request_id":"r1"`, `"entries":3`} {
		require.True(t, strings.Contains(line, want), want)
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.WithComponent("x").Info("discarded")
}
