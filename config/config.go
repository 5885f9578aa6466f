// Package config loads node and region configuration from a file, .env files
// and LATERAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/lateral"
)

// EnvPrefix is prepended to every environment variable, e.g. LATERAL_NODE_ID.
const EnvPrefix = "lateral"

type StoreConfig struct {
	Kind     string        `mapstructure:"kind"`      // ristretto | bigcache | redis
	MaxBytes int64         `mapstructure:"max_bytes"` // ristretto capacity
	Life     time.Duration `mapstructure:"life"`      // bigcache life window
	Addr     string        `mapstructure:"addr"`      // redis store address
}

type RedisConfig struct {
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Publish   bool          `mapstructure:"publish"`   // publish mutations for subscribers
	Subscribe string        `mapstructure:"subscribe"` // address whose events this node applies; "" = off
}

type MonitorConfig struct {
	IdlePeriod time.Duration `mapstructure:"idle_period"`
	Mode       string        `mapstructure:"mode"` // error | time
}

// Config is everything a lateral node needs.
type Config struct {
	NodeID      uint64 `mapstructure:"node_id"`
	Addr        string `mapstructure:"addr"` // this node's address on the local network
	Codec       string `mapstructure:"codec"`
	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Monitor MonitorConfig `mapstructure:"monitor"`

	// Region and Peers describe a single region without a config file.
	Region  string   `mapstructure:"region"`
	Peers   []string `mapstructure:"peers"`
	Regions []lateral.RegionAttributes `mapstructure:"regions"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", 0)
	v.SetDefault("addr", "")
	v.SetDefault("codec", "msgpack")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("store.kind", "ristretto")
	v.SetDefault("store.max_bytes", 64<<20)
	v.SetDefault("store.life", 10*time.Minute)
	v.SetDefault("store.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", 2*time.Second)
	v.SetDefault("redis.publish", false)
	v.SetDefault("redis.subscribe", "")
	v.SetDefault("monitor.idle_period", lateral.DefaultIdlePeriod)
	v.SetDefault("monitor.mode", "error")
	v.SetDefault("region", "")
	v.SetDefault("peers", []string{})
}

// Load reads file (if not empty), then envFiles (default .env and .env.local;
// missing files are skipped), then the environment. Later sources win over
// earlier ones; variables already set in the process win over .env files.
func Load(v *viper.Viper, file string, envFiles ...string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	c.Peers = lateral.ParsePeers(strings.Join(c.Peers, ","))
	if c.Region != "" {
		c.Regions = append(c.Regions, lateral.RegionAttributes{Region: c.Region, Peers: c.Peers})
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports settings no node could run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Codec {
	case "msgpack", "json", "cbor", "string":
	default:
		errs = append(errs, fmt.Errorf("config: unknown codec %q", c.Codec))
	}
	switch c.Store.Kind {
	case "ristretto", "bigcache", "redis":
	default:
		errs = append(errs, fmt.Errorf("config: unknown store kind %q", c.Store.Kind))
	}
	if _, err := c.MonitorMode(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Regions))
	for _, r := range c.Regions {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[r.Region] {
			errs = append(errs, fmt.Errorf("config: region %q configured twice", r.Region))
		}
		seen[r.Region] = true
	}
	return errors.Join(errs...)
}

func (c *Config) MonitorMode() (lateral.MonitorMode, error) {
	switch strings.ToLower(c.Monitor.Mode) {
	case "", "error", "error-driven":
		return lateral.ModeErrorDriven, nil
	case "time", "time-driven":
		return lateral.ModeTimeDriven, nil
	default:
		return 0, fmt.Errorf("config: unknown monitor mode %q", c.Monitor.Mode)
	}
}

// MonitorOptions converts the monitor section; call after Validate.
func (c *Config) MonitorOptions() lateral.MonitorOptions {
	mode, _ := c.MonitorMode()
	return lateral.MonitorOptions{IdlePeriod: c.Monitor.IdlePeriod, Mode: mode}
}
