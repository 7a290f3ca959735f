// Package main provides a one-shot command line backtest runner.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/stockscan/screener-backend/internal/backtester"
	"github.com/stockscan/screener-backend/internal/config"
	"github.com/stockscan/screener-backend/internal/data"
	"github.com/stockscan/screener-backend/internal/factors"
	"github.com/stockscan/screener-backend/internal/report"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	dbPath := flag.String("db", "", "Override SQLite database path")
	comboID := flag.String("combination", "ma60_trend_macd", "Rule combination ID")
	startDate := flag.String("start", "", "Start date (YYYY-MM-DD, empty for earliest)")
	endDate := flag.String("end", "", "End date (YYYY-MM-DD, empty for latest)")
	capital := flag.Float64("capital", 0, "Override initial capital")
	entryWindow := flag.Int("entry-window", 0, "Override entry window in trading days")
	exitMA := flag.Int("exit-ma", 0, "Override exit moving average window")
	maxHold := flag.Int("max-hold", -1, "Override max holding days (0 disables)")
	tradesCSV := flag.String("trades-csv", "", "Write trade blotter CSV to this path")
	navCSV := flag.String("nav-csv", "", "Write NAV series CSV to this path")
	quiet := flag.Bool("quiet", false, "Suppress progress output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Data.SQLitePath = *dbPath
	}

	btCfg := cfg.Backtest
	btCfg.CombinationID = *comboID
	btCfg.StartDate = *startDate
	btCfg.EndDate = *endDate
	if *capital > 0 {
		btCfg.InitialCapital = *capital
	}
	if *entryWindow > 0 {
		btCfg.EntryWindow = *entryWindow
	}
	if *exitMA > 0 {
		btCfg.ExitMAWindow = *exitMA
	}
	if *maxHold >= 0 {
		btCfg.MaxHoldDays = *maxHold
	}

	logger := zap.NewNop()
	if !*quiet {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	var combo factors.Combination
	found := false
	for _, c := range factors.DefaultCombinations() {
		if c.ID == *comboID {
			combo = c
			found = true
			break
		}
	}
	if !found {
		fmt.Fprintf(os.Stderr, "unknown combination %q\n", *comboID)
		os.Exit(1)
	}

	store, err := data.NewStore(logger, cfg.Data.SQLitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	market, err := store.LoadAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load market data: %v\n", err)
		os.Exit(1)
	}
	if len(market) == 0 {
		fmt.Fprintln(os.Stderr, "no price data in store; ingest data first")
		os.Exit(1)
	}
	names, err := store.Names(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load instrument names: %v\n", err)
		os.Exit(1)
	}

	resolved := factors.Resolve(combo, factors.DefaultFactors())
	engine := backtester.NewEngine(logger, resolved, combo)

	if !*quiet {
		go func() {
			for p := range engine.ProgressChan() {
				if p.Phase == "simulation" {
					fmt.Fprintf(os.Stderr, "\r%s  day %d/%d  trades %d  nav %.2f",
						p.CurrentDate, p.Processed, p.Total, p.TradesExecuted, p.CurrentNav)
				}
			}
			fmt.Fprintln(os.Stderr)
		}()
	}

	result, err := engine.Run(ctx, &btCfg, market, names)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}

	report.WriteSummary(os.Stdout, result)

	if *tradesCSV != "" {
		if err := writeFile(*tradesCSV, func(f *os.File) error {
			return report.WriteTradesCSV(f, result.Trades)
		}); err != nil {
			fmt.Fprintf(os.Stderr, "write trades csv: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Trades written to %s\n", *tradesCSV)
	}
	if *navCSV != "" {
		if err := writeFile(*navCSV, func(f *os.File) error {
			return report.WriteNavCSV(f, result.NavHistory)
		}); err != nil {
			fmt.Fprintf(os.Stderr, "write nav csv: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("NAV series written to %s\n", *navCSV)
	}
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
