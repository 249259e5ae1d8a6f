package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/ProximityVoice/internal/logger"
	"github.com/dkeye/ProximityVoice/internal/proximity"
)

const envPrefix = "PROXVOICE"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	Log      logger.Config  `mapstructure:"log"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Registry RegistryConfig `mapstructure:"registry"`
	Signal   SignalConfig   `mapstructure:"signal"`
}

type RelayConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	AppID    string        `mapstructure:"app_id"`
	AppToken string        `mapstructure:"app_token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RegistryConfig struct {
	Store        string        `mapstructure:"store"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
	SuspendAfter time.Duration `mapstructure:"suspend_after"`
}

type SignalConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	SendBuffer   int           `mapstructure:"send_buffer"`
}

type ClientConfig struct {
	Log     logger.Config `mapstructure:"log"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Client  EngineConfig  `mapstructure:"client"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	Name           string             `mapstructure:"name"`
	SweepInterval  time.Duration      `mapstructure:"sweep_interval"`
	ConnectTimeout time.Duration      `mapstructure:"connect_timeout"`
	AudibleOnly    bool               `mapstructure:"audible_only"`
	Volumes        map[string]float64 `mapstructure:"volumes"`
	ICEServers     []string           `mapstructure:"ice_servers"`
}

// VolumeTable converts the configured gains, keyed by distance, and validates them.
func (c EngineConfig) VolumeTable() (proximity.VolumeTable, error) {
	if len(c.Volumes) == 0 {
		return proximity.DefaultTable, nil
	}
	t := make(proximity.VolumeTable, len(c.Volumes))
	for k, v := range c.Volumes {
		d, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("volume key %q is not a distance: %w", k, err)
		}
		t[d] = v
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("volumes: %w", err)
	}
	return t, nil
}

func newViper(name string, fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", name, env)
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			fileName = f.Value.String()
		}
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
	return v, nil
}

func setLogDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
}

// Load reads the server configuration.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v, err := newViper("config", fs)
	if err != nil {
		return nil, err
	}

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8787)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	setLogDefaults(v)
	v.SetDefault("relay.base_url", "https://rtc.live.cloudflare.com/v1")
	v.SetDefault("relay.timeout", "10s")
	v.SetDefault("registry.store", "memory")
	v.SetDefault("registry.sqlite_path", "data/attachments.db")
	v.SetDefault("registry.suspend_after", "10m")
	v.SetDefault("signal.rate_limit", 20)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.send_buffer", 32)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	switch c.Registry.Store {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("registry.store must be memory or sqlite, got %q", c.Registry.Store)
	}
	if c.Signal.RateLimit < 1 {
		return fmt.Errorf("signal.rate_limit must be at least 1, got %d", c.Signal.RateLimit)
	}
	if c.Signal.SendBuffer < 1 {
		return fmt.Errorf("signal.send_buffer must be at least 1, got %d", c.Signal.SendBuffer)
	}
	return nil
}

// LoadClient reads the voice client configuration.
func LoadClient(fs *pflag.FlagSet) (*ClientConfig, error) {
	v, err := newViper("client", fs)
	if err != nil {
		return nil, err
	}

	setLogDefaults(v)
	// stdout belongs to the shell protocol
	v.SetDefault("log.console", false)
	v.SetDefault("gateway.base_url", "http://localhost:8787")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("client.name", "")
	v.SetDefault("client.sweep_interval", "5s")
	v.SetDefault("client.connect_timeout", "5s")
	v.SetDefault("client.audible_only", true)
	v.SetDefault("client.ice_servers", []string{"stun:stun.cloudflare.com:3478"})

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Client.SweepInterval <= 0 {
		return nil, fmt.Errorf("client.sweep_interval must be positive, got %s", cfg.Client.SweepInterval)
	}
	if _, err := cfg.Client.VolumeTable(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
