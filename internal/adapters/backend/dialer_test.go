package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sttrelay/internal/config"
)

func TestNewDialerSelectsProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Audio.SampleRate = 16000
	cfg.Backend.Provider = config.ProviderSarvam
	cfg.Backend.URL = "wss://example.invalid/ws"

	d, closeFn, err := NewDialer(cfg)
	require.NoError(t, err)
	assert.IsType(t, &SarvamDialer{}, d)
	assert.NoError(t, closeFn())

	cfg.Backend.Provider = config.ProviderYandex
	cfg.Backend.Yandex.Endpoint = "localhost:1"
	d, closeFn, err = NewDialer(cfg)
	require.NoError(t, err)
	assert.IsType(t, &YandexDialer{}, d)
	assert.NoError(t, closeFn())

	cfg.Backend.Provider = "whisper"
	_, _, err = NewDialer(cfg)
	assert.Error(t, err)
}

func TestSarvamEndpointQuery(t *testing.T) {
	d := NewSarvamDialer(SarvamConfig{
		URL:        "wss://api.sarvam.ai/speech-to-text/ws?vad_signals=true",
		Language:   "hi-IN",
		Model:      "saarika:v2.5",
		SampleRate: 8000,
	})
	got, err := d.endpoint()
	require.NoError(t, err)
	assert.Equal(t,
		"wss://api.sarvam.ai/speech-to-text/ws?language-code=hi-IN&model=saarika%3Av2.5&sample_rate=8000&vad_signals=true",
		got)
}
