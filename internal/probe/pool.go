package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/viewport/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of probes that run at once.
const DefaultConcurrency = 4

// Result is the outcome of probing one source.
type Result struct {
	Err      error
	Duration time.Duration
}

// Healthy reports whether the probe succeeded.
func (r Result) Healthy() bool { return r.Err == nil }

// Pool fans probes out over a bounded number of workers.
type Pool struct {
	Prober      Prober
	Concurrency int
	Timeout     time.Duration
}

// Run probes every distinct source once and returns only after all probes
// finished, so callers never act on a partial picture. Workers write into
// their own result slots; the caller owns the returned map.
func (p *Pool) Run(ctx context.Context, sources []string) map[string]Result {
	uniq := make([]string, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		uniq = append(uniq, s)
	}
	out := make(map[string]Result, len(uniq))
	if p == nil || p.Prober == nil || len(uniq) == 0 {
		return out
	}
	n := p.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	timeout := Options{Timeout: p.Timeout}.timeout()

	results := make([]Result, len(uniq))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for i, src := range uniq {
		g.Go(func() error {
			results[i] = p.probeOne(gctx, src, timeout)
			return nil // probe failures are results, not group errors
		})
	}
	_ = g.Wait()

	for i, src := range uniq {
		out[src] = results[i]
		if results[i].Healthy() {
			metrics.IncProbe("healthy")
		} else {
			metrics.IncProbe("unhealthy")
		}
	}
	return out
}

func (p *Pool) probeOne(ctx context.Context, src string, timeout time.Duration) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: panicError{r}, Duration: time.Since(start)}
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := p.Prober.Probe(ctx, src)
	if err != nil {
		slog.Debug("probe failed", "source", redact(src), "error", err)
	}
	return Result{Err: err, Duration: time.Since(start)}
}

type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprint("probe panicked: ", e.v) }
