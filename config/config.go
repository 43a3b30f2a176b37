// Package config loads node configuration from a file and TOLMARKET_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TOLMARKET_RPC_ADDR.
const EnvPrefix = "TOLMARKET"

// Config holds all node configuration.
type Config struct {
	NodeID        string        `mapstructure:"node_id"`
	DataDir       string        `mapstructure:"data_dir"`
	ChainID       string        `mapstructure:"chain_id"`
	MarketAddress string        `mapstructure:"market_address"` // marketplace operator pubkey hex
	GenesisFile   string        `mapstructure:"genesis_file"`
	RPC           RPCConfig     `mapstructure:"rpc"`
	Log           LogConfig     `mapstructure:"log"`
	Redis         RedisConfig   `mapstructure:"redis"`
	Archive       ArchiveConfig `mapstructure:"archive"`
}

// RPCConfig configures the HTTP front end.
type RPCConfig struct {
	Addr        string   `mapstructure:"addr"`
	AuthToken   string   `mapstructure:"auth_token"` // empty → no auth required
	CORSOrigins []string `mapstructure:"cors_origins"`
	RateLimit   float64  `mapstructure:"rate_limit"` // requests/s per client; 0 disables
	RateBurst   int      `mapstructure:"rate_burst"`
	Pprof       bool     `mapstructure:"pprof"`
}

// LogConfig configures the zap logger. File output is rotated.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json | console
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RedisConfig enables event publishing when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// ArchiveConfig enables the MySQL sales archive when DSN is set.
type ArchiveConfig struct {
	DSN    string `mapstructure:"dsn"`
	Buffer int    `mapstructure:"buffer"`
}

// Default returns a single-node development configuration.
func Default() *Config {
	return &Config{
		NodeID:      "node0",
		DataDir:     "./data",
		ChainID:     "tolmarket-dev",
		GenesisFile: "genesis.yaml",
		RPC: RPCConfig{
			Addr:      "127.0.0.1:8545",
			RateLimit: 50,
			RateBurst: 100,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Redis:   RedisConfig{Channel: "tolmarket:events"},
		Archive: ArchiveConfig{Buffer: 256},
	}
}

// Load reads the config file at path (any format viper understands) over
// the defaults, then applies environment overrides. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys the
// file does not mention.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("node_id", d.NodeID)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("chain_id", d.ChainID)
	v.SetDefault("market_address", d.MarketAddress)
	v.SetDefault("genesis_file", d.GenesisFile)
	v.SetDefault("rpc.addr", d.RPC.Addr)
	v.SetDefault("rpc.auth_token", d.RPC.AuthToken)
	v.SetDefault("rpc.cors_origins", d.RPC.CORSOrigins)
	v.SetDefault("rpc.rate_limit", d.RPC.RateLimit)
	v.SetDefault("rpc.rate_burst", d.RPC.RateBurst)
	v.SetDefault("rpc.pprof", d.RPC.Pprof)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.channel", d.Redis.Channel)
	v.SetDefault("archive.dsn", d.Archive.DSN)
	v.SetDefault("archive.buffer", d.Archive.Buffer)
}

// Validate reports configuration the node cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.ChainID == "" {
		errs = append(errs, errors.New("chain_id is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.RPC.Addr == "" {
		errs = append(errs, errors.New("rpc.addr is required"))
	}
	if c.RPC.RateLimit < 0 || c.RPC.RateBurst < 0 {
		errs = append(errs, errors.New("rpc rate limit must not be negative"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	if c.Archive.Buffer < 0 {
		errs = append(errs, errors.New("archive.buffer must not be negative"))
	}
	return errors.Join(errs...)
}
