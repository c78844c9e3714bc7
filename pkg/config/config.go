// Package config loads handlerstream settings from a yaml file, HANDLERSTREAM_*
// environment variables and bound command line flags.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/handlerstream/pkg/redisstream"
	"github.com/go-go-golems/handlerstream/pkg/transport"
)

const EnvPrefix = "HANDLERSTREAM"

type Config struct {
	ListenAddr string               `mapstructure:"listen_addr" yaml:"listen_addr"`
	Upstream   UpstreamConfig       `mapstructure:"upstream" yaml:"upstream"`
	Relay      RelayConfig          `mapstructure:"relay" yaml:"relay"`
	Redis      redisstream.Settings `mapstructure:"redis" yaml:"redis"`
	Log        LogConfig            `mapstructure:"log" yaml:"log"`
}

// UpstreamConfig points at the workflow server whose handlers are streamed.
type UpstreamConfig struct {
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	Framing         string        `mapstructure:"framing" yaml:"framing"` // sse, ndjson, websocket or redis
	IncludeInternal bool          `mapstructure:"include_internal" yaml:"include_internal"`
	CancelTimeout   time.Duration `mapstructure:"cancel_timeout" yaml:"cancel_timeout"`
}

type RelayConfig struct {
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ClientBuffer int           `mapstructure:"client_buffer" yaml:"client_buffer"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	WithCaller bool   `mapstructure:"with_caller" yaml:"with_caller"`
}

// New returns a viper instance with defaults and environment lookup configured.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("handlerstream")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	redis := redisstream.DefaultSettings()
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("upstream.base_url", "http://localhost:8080")
	v.SetDefault("upstream.framing", string(transport.FramingNDJSON))
	v.SetDefault("upstream.include_internal", false)
	v.SetDefault("upstream.cancel_timeout", "10s")
	v.SetDefault("relay.idle_timeout", "5s")
	v.SetDefault("relay.client_buffer", 1024)
	v.SetDefault("redis.enabled", redis.Enabled)
	v.SetDefault("redis.addr", redis.Addr)
	v.SetDefault("redis.group", redis.Group)
	v.SetDefault("redis.consumer", redis.Consumer)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.with_caller", false)
	return v
}

// Load reads the config file (path, or handlerstream.yaml in the working directory
// when empty) and decodes the merged settings. A missing default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	framing, err := transport.ParseFraming(c.Upstream.Framing)
	if err != nil {
		return err
	}
	c.Upstream.Framing = string(framing)
	switch {
	case framing == transport.FramingRedis && !c.Redis.Enabled:
		return errors.New("upstream.framing redis needs redis.enabled")
	case framing != transport.FramingRedis && strings.TrimSpace(c.Upstream.BaseURL) == "":
		return errors.New("upstream.base_url is required")
	case c.Relay.ClientBuffer < 0:
		return errors.Errorf("relay.client_buffer must not be negative, got %d", c.Relay.ClientBuffer)
	}
	return nil
}

// Framing returns the validated upstream framing.
func (c *Config) Framing() transport.Framing {
	return transport.Framing(c.Upstream.Framing)
}
