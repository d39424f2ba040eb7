package scanner

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/wardenlabs/warden/pkg/observability"
)

// PipelineConfig tunes scanner fan-out.
type PipelineConfig struct {
	// Timeout bounds each scanner independently. Zero means 3s.
	Timeout time.Duration

	// Telem records scanner failure metrics. May be nil.
	Telem *observability.Provider
}

// Pipeline fans one message out to every registered scanner and merges
// the results. A failed or timed-out scanner contributes nothing; the
// pipeline never fails the request.
type Pipeline struct {
	scanners []Scanner
	cfg      PipelineConfig
	log      *slog.Logger
}

// NewPipeline builds a pipeline over scanners.
func NewPipeline(scanners []Scanner, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Pipeline{scanners: scanners, cfg: cfg, log: logger}
}

// Scan normalizes text to NFC, runs every scanner concurrently and
// returns the deduplicated union of their traits (sorted) together
// with the merged mask values. Ties on a mask value go to the scanner
// registered first.
func (p *Pipeline) Scan(ctx context.Context, text string) Result {
	text = norm.NFC.String(text)

	results := make([]Result, len(p.scanners))
	var wg sync.WaitGroup
	for i, s := range p.scanners {
		wg.Add(1)
		go func(i int, s Scanner) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()

			res, err := s.Scan(sctx, text)
			if err != nil {
				p.log.Warn("scanner failed, continuing without it",
					"scanner", s.Name(), "error", err)
				p.cfg.Telem.RecordScannerFailure(ctx, s.Name())
				return
			}
			results[i] = res
		}(i, s)
	}
	wg.Wait()

	return merge(results)
}

func merge(results []Result) Result {
	seen := make(map[string]bool)
	out := Result{MaskedValues: make(map[string]string)}
	for _, r := range results {
		for _, tr := range r.Traits {
			if !seen[tr] {
				seen[tr] = true
				out.Traits = append(out.Traits, tr)
			}
		}
		for tr, v := range r.MaskedValues {
			if _, ok := out.MaskedValues[tr]; !ok {
				out.MaskedValues[tr] = v
			}
		}
	}
	sort.Strings(out.Traits)
	return out
}
