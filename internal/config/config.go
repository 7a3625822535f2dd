// Package config loads the ajpgateway configuration from TOML, YAML or
// JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	ajp "github.com/jrialland/ajp-client"
	"github.com/jrialland/ajp-client/internal/logging"
)

// Duration is a time.Duration written as a string such as "1m30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "duration %q", text)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the top-level configuration of ajpgateway.
type Config struct {
	Listen   string         `json:"listen" toml:"listen" yaml:"listen"`    // HTTP listen address
	Metrics  string         `json:"metrics" toml:"metrics" yaml:"metrics"` // metrics listen address, empty to disable
	FastHTTP bool           `json:"fasthttp" toml:"fasthttp" yaml:"fasthttp"`
	Upstream Upstream       `json:"upstream" toml:"upstream" yaml:"upstream"`
	Log      logging.Config `json:"log" toml:"log" yaml:"log"`
}

// Upstream configures the AJP13 container and its connection pool.
type Upstream struct {
	Addr              string   `json:"addr" toml:"addr" yaml:"addr"`
	Immortal          *int     `json:"immortal" toml:"immortal" yaml:"immortal"`
	MaxEphemeral      *int     `json:"max_ephemeral" toml:"max_ephemeral" yaml:"max_ephemeral"`
	EphemeralLifespan Duration `json:"ephemeral_lifespan" toml:"ephemeral_lifespan" yaml:"ephemeral_lifespan"`
	ReaperInterval    Duration `json:"reaper_interval" toml:"reaper_interval" yaml:"reaper_interval"`
	LeaseDuration     Duration `json:"lease_duration" toml:"lease_duration" yaml:"lease_duration"`
	ForwardTimeout    Duration `json:"forward_timeout" toml:"forward_timeout" yaml:"forward_timeout"`
	PingTimeout       Duration `json:"ping_timeout" toml:"ping_timeout" yaml:"ping_timeout"`
	DialTimeout       Duration `json:"dial_timeout" toml:"dial_timeout" yaml:"dial_timeout"`
	ValidateOnLease   bool     `json:"validate_on_lease" toml:"validate_on_lease" yaml:"validate_on_lease"`
	HeadSampling      bool     `json:"head_sampling" toml:"head_sampling" yaml:"head_sampling"`
	NetLog            bool     `json:"netlog" toml:"netlog" yaml:"netlog"`
	Route             string   `json:"route" toml:"route" yaml:"route"`
	Secret            string   `json:"secret" toml:"secret" yaml:"secret"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Log: logging.DefaultConfig()}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads the file at path, choosing the format by its extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	cfg := &Config{Log: logging.DefaultConfig()}
	if err = Decode(cfg, filepath.Ext(path), data); err != nil {
		return nil, errors.Wrap(err, path)
	}
	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return cfg, nil
}

// Decode parses data into cfg. ext is a file extension such as ".toml".
func Decode(cfg *Config, ext string, data []byte) error {
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return errors.WithStack(err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return errors.Errorf("unknown key %q", undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return errors.WithStack(err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return errors.WithStack(err)
		}
	default:
		return errors.Errorf("unsupported config format %q", ext)
	}
	return nil
}

func intPtr(n int) *int { return &n }

// ApplyDefaults fills in unset values.
func (cfg *Config) ApplyDefaults() {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	u := &cfg.Upstream
	if u.Addr == "" {
		u.Addr = "localhost:8009"
	}
	if u.Immortal == nil {
		u.Immortal = intPtr(ajp.DefaultImmortal)
	}
	if u.MaxEphemeral == nil {
		u.MaxEphemeral = intPtr(ajp.DefaultMaxEphemeral)
	}
	setDuration(&u.EphemeralLifespan, ajp.DefaultEphemeralLifespan)
	setDuration(&u.ReaperInterval, ajp.DefaultReaperInterval)
	setDuration(&u.ForwardTimeout, ajp.DefaultForwardTimeout)
	setDuration(&u.PingTimeout, ajp.DefaultPingTimeout)
	setDuration(&u.DialTimeout, ajp.DefaultDialTimeout)
	setDuration(&u.LeaseDuration, time.Duration(u.ForwardTimeout)+time.Duration(u.PingTimeout))
}

func setDuration(d *Duration, v time.Duration) {
	if *d == 0 {
		*d = Duration(v)
	}
}

// Validate checks the configuration for values that can not work.
func (cfg *Config) Validate() error {
	u := cfg.Upstream
	if *u.Immortal < 0 {
		return errors.Errorf("upstream.immortal must not be negative")
	}
	if *u.MaxEphemeral < 0 {
		return errors.Errorf("upstream.max_ephemeral must not be negative")
	}
	if *u.Immortal+*u.MaxEphemeral == 0 {
		return errors.Errorf("upstream pool has no connections")
	}
	for name, d := range map[string]Duration{
		"ephemeral_lifespan": u.EphemeralLifespan,
		"reaper_interval":    u.ReaperInterval,
		"lease_duration":     u.LeaseDuration,
		"forward_timeout":    u.ForwardTimeout,
		"ping_timeout":       u.PingTimeout,
		"dial_timeout":       u.DialTimeout,
	} {
		if d < 0 {
			return errors.Errorf("upstream.%s must not be negative", name)
		}
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	return nil
}

// ClientConfig returns the ajp.ClientConfig for the upstream.
func (cfg *Config) ClientConfig() ajp.ClientConfig {
	u := cfg.Upstream
	return ajp.ClientConfig{
		Pool: ajp.PoolConfig{
			Immortal:          *u.Immortal,
			MaxEphemeral:      *u.MaxEphemeral,
			EphemeralLifespan: time.Duration(u.EphemeralLifespan),
			ReaperInterval:    time.Duration(u.ReaperInterval),
		},
		LeaseDuration:   time.Duration(u.LeaseDuration),
		ForwardTimeout:  time.Duration(u.ForwardTimeout),
		PingTimeout:     time.Duration(u.PingTimeout),
		DialTimeout:     time.Duration(u.DialTimeout),
		ValidateOnLease: u.ValidateOnLease,
		HeadSampling:    u.HeadSampling,
		NetLog:          u.NetLog,
	}
}
