package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "secret: s3cret\n"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.ReleaseAfter)
	assert.Equal(t, 8, cfg.ShareLinkLength)
	assert.Equal(t, 32, cfg.OutboundCapacity)
	assert.Equal(t, 2*time.Second, cfg.SendTimeout)
	assert.Equal(t, 10, cfg.ChatRateLimit)
	assert.Equal(t, 5*time.Second, cfg.ChatRateInterval)
}

func TestLoadFileValues(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
mode: debug
port: 9000
secret: s3cret
release_after: 1m
outbound_capacity: 64
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, time.Minute, cfg.ReleaseAfter)
	assert.Equal(t, 64, cfg.OutboundCapacity)
}

func TestLoadFileEnvOverride(t *testing.T) {
	t.Setenv("STREALOME_PORT", "9100")
	t.Setenv("STREALOME_SECRET", "from-env")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "from-env", cfg.Secret)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "secret: s3cret\nsend_timeout: 0s\n"))
	assert.ErrorContains(t, err, "send_timeout must be positive")

	_, err = LoadFile(writeConfig(t, "port: 1\n"))
	assert.ErrorContains(t, err, "secret must be set")
}
