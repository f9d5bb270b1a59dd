package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultConfig()},
		{name: "console", cfg: Config{Level: "debug", Format: "console"}},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
		{name: "bad format", cfg: Config{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNewWritesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File = filepath.Join(t.TempDir(), "dace.log")

	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Info("models trained")
	logger.Debug("hidden at info level")
	_ = logger.Sync()

	raw, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, `"message":"models trained"`)
	assert.Contains(t, out, `"level":"info"`)
	assert.False(t, strings.Contains(out, "hidden at info level"))
}
