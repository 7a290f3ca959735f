// Package config loads runtime settings from an optional YAML file and
// SCREENER_* environment variables, with sane defaults for everything.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stockscan/screener-backend/pkg/types"
)

// Config is the full runtime configuration for the server and CLI.
type Config struct {
	Server   types.ServerConfig
	Data     types.DataConfig
	Backtest types.BacktestConfig
	LogLevel string
}

// Load reads configuration. path may be empty, in which case only
// defaults and environment variables apply. A present-but-broken file
// is an error; an absent file is not.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.enable_metrics", true)

	v.SetDefault("data.sqlite_path", "screener.db")

	v.SetDefault("backtest.initial_capital", types.DefaultInitialCapital)
	v.SetDefault("backtest.entry_window", types.DefaultEntryWindow)
	v.SetDefault("backtest.exit_ma_window", types.DefaultExitMAWindow)
	v.SetDefault("backtest.lot_size", types.DefaultLotSize)
	v.SetDefault("backtest.warmup_days", types.DefaultWarmupDays)
	v.SetDefault("backtest.max_hold_days", 0)

	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("SCREENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	readTimeout, err := time.ParseDuration(v.GetString("server.read_timeout"))
	if err != nil {
		return nil, fmt.Errorf("server.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(v.GetString("server.write_timeout"))
	if err != nil {
		return nil, fmt.Errorf("server.write_timeout: %w", err)
	}

	cfg := &Config{
		Server: types.ServerConfig{
			Host:          v.GetString("server.host"),
			Port:          v.GetInt("server.port"),
			WebSocketPath: v.GetString("server.websocket_path"),
			ReadTimeout:   readTimeout,
			WriteTimeout:  writeTimeout,
			EnableMetrics: v.GetBool("server.enable_metrics"),
		},
		Data: types.DataConfig{
			SQLitePath: v.GetString("data.sqlite_path"),
		},
		Backtest: types.BacktestConfig{
			InitialCapital: v.GetFloat64("backtest.initial_capital"),
			EntryWindow:    v.GetInt("backtest.entry_window"),
			ExitMAWindow:   v.GetInt("backtest.exit_ma_window"),
			LotSize:        v.GetInt64("backtest.lot_size"),
			WarmupDays:     v.GetInt("backtest.warmup_days"),
			MaxHoldDays:    v.GetInt("backtest.max_hold_days"),
		},
		LogLevel: v.GetString("log_level"),
	}
	cfg.Backtest.Normalize()

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	return cfg, nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
