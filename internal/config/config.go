package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "STREALOME"

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`
	DBPath string `mapstructure:"db_path"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	ReleaseAfter     time.Duration `mapstructure:"release_after"`
	ShareLinkLength  int           `mapstructure:"share_link_length"`
	OutboundCapacity int           `mapstructure:"outbound_capacity"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`

	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`

	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults
// when the file is missing. STREALOME_* variables override both.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("db_path", "strealome.db")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("release_after", "15s")
	v.SetDefault("share_link_length", 8)
	v.SetDefault("outbound_capacity", 32)
	v.SetDefault("send_timeout", "2s")
	v.SetDefault("chat_rate_limit", 10)
	v.SetDefault("chat_rate_interval", "5s")
	v.SetDefault("token_ttl", "24h")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Err(err).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Dur("release_after", cfg.ReleaseAfter).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Secret == "" {
		errs = append(errs, errors.New("secret must be set"))
	}
	positive := []struct {
		name string
		ok   bool
	}{
		{"read_limit", c.ReadLimit > 0},
		{"write_timeout", c.WriteTimeout > 0},
		{"release_after", c.ReleaseAfter > 0},
		{"share_link_length", c.ShareLinkLength > 0},
		{"outbound_capacity", c.OutboundCapacity > 0},
		{"send_timeout", c.SendTimeout > 0},
		{"chat_rate_limit", c.ChatRateLimit > 0},
		{"chat_rate_interval", c.ChatRateInterval > 0},
		{"token_ttl", c.TokenTTL > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
