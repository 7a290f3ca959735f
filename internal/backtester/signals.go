package backtester

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/stockscan/screener-backend/internal/factors"
	"github.com/stockscan/screener-backend/pkg/types"
)

// Signal identifies an instrument whose rule fired on a given date.
type Signal struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Detector scans every instrument's history and reports, per date, the
// instruments for which every factor of the rule passed. Evaluation on
// day T only ever sees rows up to and including T.
type Detector struct {
	logger  *zap.Logger
	factors []factors.Factor
	warmup  int
	workers int
}

// NewDetector creates a detector over the resolved factor list. warmup
// is the minimum history length an instrument needs before any day is
// eligible; shorter histories are skipped entirely.
func NewDetector(logger *zap.Logger, fs []factors.Factor, warmup int) *Detector {
	return &Detector{
		logger:  logger,
		factors: fs,
		warmup:  warmup,
		workers: runtime.NumCPU(),
	}
}

// Detect scans all instruments and returns a date-keyed map of fired
// signals, optionally bounded by [startDate, endDate] (inclusive, empty
// means unbounded). Instruments are scanned concurrently; the merged
// per-date lists are sorted by code so the output is independent of
// scheduling. A factor error aborts the whole scan: a broken indicator
// silently degrading results would be worse than failing the run.
func (d *Detector) Detect(ctx context.Context, data map[string][]types.PriceBar, names map[string]string, startDate, endDate string) (map[string][]Signal, error) {
	codes := make([]string, 0, len(data))
	for code := range data {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		merged  = make(map[string][]Signal)
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
	workers := d.workers
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
				local, err := d.scanInstrument(ctx, code, data[code], names[code], startDate, endDate)
				if err != nil {
					fail(err)
					return
				}
				mu.Lock()
				for date, sigs := range local {
					merged[date] = append(merged[date], sigs...)
				}
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

	for date := range merged {
		sigs := merged[date]
		sort.Slice(sigs, func(i, j int) bool { return sigs[i].Code < sigs[j].Code })
	}
	return merged, nil
}

// scanInstrument evaluates the rule for every eligible day of one
// instrument. The sub-history passed to each factor ends at the
// decision day, never beyond it.
func (d *Detector) scanInstrument(ctx context.Context, code string, bars []types.PriceBar, name, startDate, endDate string) (map[string][]Signal, error) {
	if len(bars) < d.warmup {
		return nil, nil
	}

	local := make(map[string][]Signal)
	for t := d.warmup - 1; t < len(bars); t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		date := bars[t].Date
		if startDate != "" && date < startDate {
			continue
		}
		if endDate != "" && date > endDate {
			break
		}

		fired := true
		for _, f := range d.factors {
			res, err := f.Compute(bars[:t+1])
			if err != nil {
				return nil, fmt.Errorf("factor %s on %s at %s: %w", f.ID(), code, date, err)
			}
			if !res.Passed {
				fired = false
				break
			}
		}
		if fired {
			local[date] = append(local[date], Signal{Code: code, Name: name})
		}
	}

	if len(local) > 0 {
		d.logger.Debug("instrument signals",
			zap.String("code", code),
			zap.Int("days", len(local)),
		)
	}
	return local, nil
}
