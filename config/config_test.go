package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_DefaultsMatch(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 9000
  mode: release
model:
  endpoint: http://gpu-box:8000
  device: cuda:1
  timeout: 5m
redis:
  addr: 127.0.0.1:6379
  ttl: 1h
schedule:
  health_probe: ""
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "http://gpu-box:8000", cfg.Model.Endpoint)
	assert.Equal(t, "cuda:1", cfg.Model.Device)
	assert.Equal(t, 5*time.Minute, cfg.Model.Timeout)
	assert.Equal(t, "models/TripoSR", cfg.Model.Path)
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
	assert.Empty(t, cfg.Schedule.HealthProbe)
	assert.Equal(t, "http://127.0.0.1:7000", cfg.Rembg.Endpoint)
}

func TestNew_MissingFileFallsBack(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	cfg := New(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", DefaultPath))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
