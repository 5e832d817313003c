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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 2, cfg.Audio.Channels)
	assert.Equal(t, 0, cfg.Audio.KeepChannel)
	assert.Equal(t, time.Second, cfg.Audio.Window)
	assert.Equal(t, 16000, cfg.Audio.WindowSamples())
	assert.Equal(t, 2*time.Second, cfg.Relay.GracePeriod)
	assert.True(t, cfg.Dump.Enabled)
	assert.Equal(t, "@every 1h", cfg.Dump.PruneSchedule)
	assert.Equal(t, 24*time.Hour, cfg.Dump.MaxAge)
	assert.Equal(t, ProviderSarvam, cfg.Backend.Provider)
	assert.Equal(t, "stt.api.cloud.yandex.net:443", cfg.Backend.Yandex.Endpoint)
	assert.Equal(t, "https://api.vapi.ai", cfg.Vapi.APIURL)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, `
mode: debug
port: 9090
audio:
  channels: 1
  window: 500ms
relay:
  grace_period: 750ms
dump:
  enabled: false
backend:
  provider: yandex
  yandex:
    folder_id: b1g-test
`))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, 8000, cfg.Audio.WindowSamples())
	assert.Equal(t, 750*time.Millisecond, cfg.Relay.GracePeriod)
	assert.False(t, cfg.Dump.Enabled)
	assert.Equal(t, ProviderYandex, cfg.Backend.Provider)
	assert.Equal(t, "b1g-test", cfg.Backend.Yandex.FolderID)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, "port: 9090\n"))
	t.Setenv("RELAY_PORT", "7070")
	t.Setenv("RELAY_BACKEND_API_KEY", "secret")
	t.Setenv("RELAY_VAPI_ASSISTANT_ID", "asst-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "secret", cfg.Backend.APIKey)
	assert.Equal(t, "asst-1", cfg.Vapi.AssistantID)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfig(t, "audio:\n  keep_channel: 2\n"))

	_, err := Load()
	assert.ErrorContains(t, err, "keep_channel")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Audio:   AudioConfig{SampleRate: 16000, Channels: 2, Window: time.Second},
			Relay:   RelayConfig{GracePeriod: time.Second},
			Backend: BackendConfig{Provider: ProviderSarvam},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"zero channels", func(c *Config) { c.Audio.Channels = 0 }},
		{"negative keep", func(c *Config) { c.Audio.KeepChannel = -1 }},
		{"tiny window", func(c *Config) { c.Audio.Window = time.Millisecond }},
		{"negative grace", func(c *Config) { c.Relay.GracePeriod = -time.Second }},
		{"unknown provider", func(c *Config) { c.Backend.Provider = "whisper" }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
