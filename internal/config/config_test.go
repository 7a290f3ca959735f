package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stockscan/screener-backend/internal/config"
	"github.com/stockscan/screener-backend/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Backtest.InitialCapital != types.DefaultInitialCapital {
		t.Errorf("capital = %f", cfg.Backtest.InitialCapital)
	}
	if cfg.Backtest.EntryWindow != types.DefaultEntryWindow {
		t.Errorf("entry window = %d", cfg.Backtest.EntryWindow)
	}
	if cfg.Data.SQLitePath != "screener.db" {
		t.Errorf("sqlite path = %s", cfg.Data.SQLitePath)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %s", cfg.Addr())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9999
  host: 127.0.0.1
backtest:
  initial_capital: 500000
  entry_window: 3
data:
  sqlite_path: /tmp/prices.db
log_level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Backtest.InitialCapital != 500000 {
		t.Errorf("capital = %f", cfg.Backtest.InitialCapital)
	}
	if cfg.Backtest.EntryWindow != 3 {
		t.Errorf("entry window = %d", cfg.Backtest.EntryWindow)
	}
	// Unset keys keep their defaults.
	if cfg.Backtest.LotSize != types.DefaultLotSize {
		t.Errorf("lot size = %d", cfg.Backtest.LotSize)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %s", cfg.LogLevel)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCREENER_SERVER_PORT", "7777")
	t.Setenv("SCREENER_BACKTEST_LOT_SIZE", "200")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Backtest.LotSize != 200 {
		t.Errorf("lot size = %d, want 200", cfg.Backtest.LotSize)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("SCREENER_SERVER_PORT", "99999")

	if _, err := config.Load(""); err == nil {
		t.Error("out-of-range port accepted")
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("broken config file accepted")
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("absent config file rejected: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}
