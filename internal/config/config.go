// Package config loads service configuration from an optional YAML file
// and OFDMSIM_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jeongseonghan/ofdm-sim/internal/modem"
)

// EnvPrefix prefixes every environment override, e.g. OFDMSIM_SERVER_ADDR.
const EnvPrefix = "OFDMSIM"

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	OFDM         OFDMConfig         `mapstructure:"ofdm"`
	Channel      ChannelConfig      `mapstructure:"channel"`
	Log          LogConfig          `mapstructure:"log"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
	Audio        AudioConfig        `mapstructure:"audio"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type OrchestratorConfig struct {
	Cooldown  time.Duration `mapstructure:"cooldown"`
	QueueSize int           `mapstructure:"queue_size"`
}

type OFDMConfig struct {
	FFTSize        int    `mapstructure:"fft_size"`
	NumSubcarriers int    `mapstructure:"num_subcarriers"`
	CyclicPrefix   int    `mapstructure:"cyclic_prefix"`
	Modulation     string `mapstructure:"modulation"`
}

type ChannelConfig struct {
	BandwidthHz float64 `mapstructure:"bandwidth_hz"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type AudioConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Hold       int     `mapstructure:"hold"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("orchestrator.cooldown", 2*time.Second)
	v.SetDefault("orchestrator.queue_size", 8)
	v.SetDefault("ofdm.fft_size", 64)
	v.SetDefault("ofdm.num_subcarriers", 64)
	v.SetDefault("ofdm.cyclic_prefix", 16)
	v.SetDefault("ofdm.modulation", "QPSK")
	v.SetDefault("channel.bandwidth_hz", 20e6)
	v.SetDefault("log.development", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "ofdm-sim")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("audio.enabled", false)
	v.SetDefault("audio.sample_rate", 44100.0)
	v.SetDefault("audio.hold", 8)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values no default can repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Orchestrator.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.cooldown %v must not be negative", c.Orchestrator.Cooldown))
	}
	if c.Orchestrator.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.queue_size %d must be >= 1", c.Orchestrator.QueueSize))
	}
	if c.Channel.BandwidthHz <= 0 {
		errs = append(errs, fmt.Errorf("channel.bandwidth_hz %v must be > 0", c.Channel.BandwidthHz))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %v outside [0,1]", c.Tracing.SampleRatio))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %v must be > 0", c.Audio.SampleRate))
	}
	if _, err := c.OFDMParams(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OFDMParams converts the ofdm section into modem parameters.
// "auto" leaves the modulation unset.
func (c *Config) OFDMParams() (modem.Params, error) {
	p := modem.Params{
		FFTSize:            c.OFDM.FFTSize,
		NumSubcarriers:     c.OFDM.NumSubcarriers,
		CyclicPrefixLength: c.OFDM.CyclicPrefix,
	}
	if !strings.EqualFold(c.OFDM.Modulation, modem.ModAuto) {
		mod, err := modem.ParseModulation(c.OFDM.Modulation)
		if err != nil {
			return modem.Params{}, fmt.Errorf("ofdm.modulation: %w", err)
		}
		p.Modulation = mod
	}
	check := p
	if check.Modulation == 0 {
		check.Modulation = modem.ModBPSK
	}
	if err := check.Validate(); err != nil {
		return modem.Params{}, fmt.Errorf("ofdm: %w", err)
	}
	return p, nil
}

// NewLogger builds a JSON production logger, or a console development
// logger when log.development is set.
func (c *Config) NewLogger() (*zap.Logger, error) {
	if c.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
