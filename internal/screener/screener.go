// Package screener runs the full-market one-pass scan: evaluate every
// factor once per instrument on its latest row, then grade every rule
// combination against those shared results.
package screener

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stockscan/screener-backend/internal/factors"
	"github.com/stockscan/screener-backend/pkg/types"
)

// Match is one instrument that passed a combination.
type Match struct {
	Code    string                    `json:"code"`
	Name    string                    `json:"name"`
	Date    string                    `json:"date"`
	Results map[string]factors.Result `json:"results"`
}

// ComboReport groups the matches of one combination.
type ComboReport struct {
	Combination factors.Combination `json:"combination"`
	Matches     []Match             `json:"matches"`
}

// Report is the outcome of a full-market scan.
type Report struct {
	ScanDate    string        `json:"scanDate"`
	Instruments int           `json:"instruments"`
	Skipped     int           `json:"skipped"`
	Combos      []ComboReport `json:"combos"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Screener evaluates the built-in factor set against current market
// data. Factors are computed once per instrument and reused across
// combinations.
type Screener struct {
	logger  *zap.Logger
	factors []factors.Factor
	combos  []factors.Combination
	minBars int
	workers int
}

func NewScreener(logger *zap.Logger, fs []factors.Factor, combos []factors.Combination, minBars int) *Screener {
	return &Screener{
		logger:  logger,
		factors: fs,
		combos:  combos,
		minBars: minBars,
		workers: runtime.NumCPU(),
	}
}

type instrumentScan struct {
	code    string
	name    string
	date    string
	results map[string]factors.Result
}

// Run scans every instrument's latest row. Instruments with fewer than
// minBars rows are skipped and counted; a factor error fails the whole
// scan.
func (s *Screener) Run(ctx context.Context, data map[string][]types.PriceBar, names map[string]string) (*Report, error) {
	start := time.Now()

	codes := make([]string, 0, len(data))
	for code := range data {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		scans   []instrumentScan
		skipped int
		wg      sync.WaitGroup
		errOnce sync.Once
		scanErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			scanErr = err
			cancel()
		})
	}

	codeCh := make(chan string)
	workers := s.workers
	if workers > len(codes) {
		workers = len(codes)
	}
	if workers < 1 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for code := range codeCh {
				bars := data[code]
				if len(bars) < s.minBars {
					mu.Lock()
					skipped++
					mu.Unlock()
					continue
				}

				results := make(map[string]factors.Result, len(s.factors))
				failed := false
				for _, f := range s.factors {
					res, err := f.Compute(bars)
					if err != nil {
						fail(fmt.Errorf("factor %s on %s: %w", f.ID(), code, err))
						failed = true
						break
					}
					results[f.ID()] = res
				}
				if failed {
					return
				}

				mu.Lock()
				scans = append(scans, instrumentScan{
					code:    code,
					name:    names[code],
					date:    bars[len(bars)-1].Date,
					results: results,
				})
				mu.Unlock()
			}
		}()
	}

	for _, code := range codes {
		select {
		case codeCh <- code:
		case <-ctx.Done():
		}
	}
	close(codeCh)
	wg.Wait()

	if scanErr != nil {
		return nil, scanErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scans, func(i, j int) bool { return scans[i].code < scans[j].code })

	report := &Report{
		Instruments: len(codes),
		Skipped:     skipped,
	}
	for _, sc := range scans {
		if sc.date > report.ScanDate {
			report.ScanDate = sc.date
		}
	}

	for _, combo := range s.combos {
		cr := ComboReport{Combination: combo}
		for _, sc := range scans {
			if !combo.Evaluate(sc.results) {
				continue
			}
			picked := make(map[string]factors.Result, len(combo.Factors))
			for _, id := range combo.Factors {
				picked[id] = sc.results[id]
			}
			cr.Matches = append(cr.Matches, Match{
				Code:    sc.code,
				Name:    sc.name,
				Date:    sc.date,
				Results: picked,
			})
		}
		report.Combos = append(report.Combos, cr)

		s.logger.Info("combination scanned",
			zap.String("combination", combo.ID),
			zap.Int("matches", len(cr.Matches)),
		)
	}

	report.Elapsed = time.Since(start)
	return report, nil
}
