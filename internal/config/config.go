package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/sttrelay/internal/audio"
)

const (
	ProviderSarvam = "sarvam"
	ProviderYandex = "yandex"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`

	Audio   AudioConfig   `mapstructure:"audio"`
	Relay   RelayConfig   `mapstructure:"relay"`
	WS      WSConfig      `mapstructure:"ws"`
	Dump    DumpConfig    `mapstructure:"dump"`
	Backend BackendConfig `mapstructure:"backend"`
	Vapi    VapiConfig    `mapstructure:"vapi"`
}

// AudioConfig is the fixed inbound format. It is not negotiated with the
// client; the start message is only checked for its type.
type AudioConfig struct {
	SampleRate  int           `mapstructure:"sample_rate"`
	Channels    int           `mapstructure:"channels"`
	KeepChannel int           `mapstructure:"keep_channel"`
	Window      time.Duration `mapstructure:"window"`
}

func (a AudioConfig) WindowSamples() int {
	return audio.WindowSamples(a.SampleRate, a.Window)
}

type RelayConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	ResultBuffer int           `mapstructure:"result_buffer"`
}

type WSConfig struct {
	ConnectsPerMinute int `mapstructure:"connects_per_minute"`
}

type DumpConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	// PruneSchedule is a cron spec; empty disables pruning.
	PruneSchedule string        `mapstructure:"prune_schedule"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

type BackendConfig struct {
	Provider    string        `mapstructure:"provider"`
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"api_key"`
	Language    string        `mapstructure:"language"`
	Model       string        `mapstructure:"model"`
	Encoding    string        `mapstructure:"encoding"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Yandex      YandexConfig  `mapstructure:"yandex"`
}

type YandexConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	IAMToken string `mapstructure:"iam_token"`
	FolderID string `mapstructure:"folder_id"`
}

type VapiConfig struct {
	APIURL      string `mapstructure:"api_url"`
	APIKey      string `mapstructure:"api_key"`
	AssistantID string `mapstructure:"assistant_id"`
	PublicWSURL string `mapstructure:"public_ws_url"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (or the file named by
// CONFIG_FILE), then applies RELAY_* environment overrides. A .env file in
// the working directory is loaded into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg(".env not loaded")
	}

	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("backend", cfg.Backend.Provider).
		Int("window_samples", cfg.Audio.WindowSamples()).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "10s")

	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.keep_channel", 0)
	v.SetDefault("audio.window", "1s")

	v.SetDefault("relay.grace_period", "2s")
	v.SetDefault("relay.result_buffer", 64)

	v.SetDefault("ws.connects_per_minute", 0)

	v.SetDefault("dump.enabled", true)
	v.SetDefault("dump.dir", "./dumps")
	v.SetDefault("dump.prune_schedule", "@every 1h")
	v.SetDefault("dump.max_age", "24h")

	v.SetDefault("backend.provider", ProviderSarvam)
	v.SetDefault("backend.url", "wss://api.sarvam.ai/speech-to-text/ws")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.language", "en-IN")
	v.SetDefault("backend.model", "saarika:v2.5")
	v.SetDefault("backend.encoding", "audio/wav")
	v.SetDefault("backend.dial_timeout", "10s")
	v.SetDefault("backend.yandex.endpoint", "stt.api.cloud.yandex.net:443")
	v.SetDefault("backend.yandex.iam_token", "")
	v.SetDefault("backend.yandex.folder_id", "")

	v.SetDefault("vapi.api_url", "https://api.vapi.ai")
	v.SetDefault("vapi.api_key", "")
	v.SetDefault("vapi.assistant_id", "")
	v.SetDefault("vapi.public_ws_url", "")
}

func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels)
	}
	if c.Audio.KeepChannel < 0 || c.Audio.KeepChannel >= c.Audio.Channels {
		return fmt.Errorf("audio.keep_channel %d out of range for %d channels", c.Audio.KeepChannel, c.Audio.Channels)
	}
	if c.Audio.Window < 10*time.Millisecond {
		return fmt.Errorf("audio.window must be at least 10ms, got %s", c.Audio.Window)
	}
	if c.Relay.GracePeriod < 0 {
		return fmt.Errorf("relay.grace_period must not be negative")
	}
	switch c.Backend.Provider {
	case ProviderSarvam, ProviderYandex:
	default:
		return fmt.Errorf("unknown backend.provider %q", c.Backend.Provider)
	}
	return nil
}
