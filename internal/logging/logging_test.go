package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotationPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		rotation    FileRotation
		wantSizeMB  int
		wantAgeDays int
	}{
		{
			name:        "daily bounds backup age to one day",
			rotation:    FileRotation{Mode: "daily"},
			wantSizeMB:  100,
			wantAgeDays: 1,
		},
		{
			name:        "weekly bounds backup age to seven days",
			rotation:    FileRotation{Mode: "weekly"},
			wantSizeMB:  100,
			wantAgeDays: 7,
		},
		{
			name:        "size mode uses the configured threshold",
			rotation:    FileRotation{Mode: "size", MaxSizeMB: 5},
			wantSizeMB:  5,
			wantAgeDays: 28,
		},
		{
			name:        "size mode without a threshold keeps the default",
			rotation:    FileRotation{Mode: "size"},
			wantSizeMB:  100,
			wantAgeDays: 28,
		},
		{
			name:        "unknown mode keeps the defaults",
			rotation:    FileRotation{},
			wantSizeMB:  100,
			wantAgeDays: 28,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sizeMB, ageDays := rotationPolicy(tt.rotation)
			assert.Equal(t, tt.wantSizeMB, sizeMB)
			assert.Equal(t, tt.wantAgeDays, ageDays)
		})
	}
}

func TestNewFileLoggerWritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "main.log")
	logger, closeLog, err := NewFileLogger(path, "main", slog.LevelInfo, FileRotation{Mode: "size", MaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("startup", "node", "test")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"main"`)
	assert.Contains(t, string(data), `"node":"test"`)
}
