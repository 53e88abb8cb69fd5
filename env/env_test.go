package env_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/OmGuptaIND/screenrec/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	e, err := env.LoadEnvironmentVariables(filepath.Join(t.TempDir(), ".env"))

	require.NoError(t, err)
	assert.Equal(t, 3000, e.Port)
	assert.Equal(t, "info", e.LogLevel)
	assert.Equal(t, int64(10000), e.InitialCredits)
	assert.Equal(t, 640, e.WebcamWidth)
	assert.True(t, e.IsDevelopment())
	assert.False(t, e.HasBucket())
}

func TestLoadFromFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "PORT=8081\nLOG_LEVEL=debug\nINITIAL_CREDITS=500\nBUCKET_NAME=tutorials\nBUCKET_ENDPOINT=s3.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("LOG_LEVEL", "warn")

	e, err := env.LoadEnvironmentVariables(path)

	require.NoError(t, err)
	assert.Equal(t, 8081, e.Port)
	assert.Equal(t, "warn", e.LogLevel)
	assert.Equal(t, int64(500), e.InitialCredits)
	assert.True(t, e.HasBucket())
}
