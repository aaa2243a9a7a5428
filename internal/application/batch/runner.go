// Package batch runs one operation over many disjoint keys (users or cohorts)
// with bounded concurrency. A failed key is retried on transient errors and
// then recorded in the report; it never aborts the rest of the batch.
package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leap-ielts/leap-engagement/internal/domain/shared"
	"github.com/leap-ielts/leap-engagement/pkg/logger"
	"github.com/leap-ielts/leap-engagement/pkg/retry"
)

// Config contains runner settings.
type Config struct {
	// Concurrency is the number of keys processed at once.
	Concurrency int
	// Attempts is the maximum tries per key, including the first.
	Attempts int
	// Backoff overrides the first retry delay when non-zero.
	Backoff time.Duration
}

// DefaultConfig returns default runner settings.
func DefaultConfig() Config {
	return Config{Concurrency: 8, Attempts: 3}
}

// Failure is one key that did not succeed.
type Failure struct {
	Key       string
	Err       error
	Permanent bool
}

// Report summarises one pass.
type Report struct {
	Name      string
	Total     int
	Succeeded int
	Failures  []Failure
	Duration  time.Duration
}

// Failed returns the number of failed keys.
func (r Report) Failed() int {
	return len(r.Failures)
}

// Err joins all failures into one error, or nil.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

// Runner executes batches.
type Runner struct {
	cfg     Config
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, log *logger.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &Runner{cfg: cfg, log: log.Named("batch")}
	opts := []retry.Option{retry.WithRetryIf(retryable)}
	if cfg.Backoff > 0 {
		opts = append(opts, retry.WithInitialDelay(cfg.Backoff), retry.WithMaxDelay(cfg.Backoff*4))
	}
	r.retrier = retry.BatchUnitRetrier(cfg.Attempts).With(opts...)
	return r
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !shared.IsPermanent(err)
}

// Run calls fn once per key. It returns an error only when ctx ends before
// the pass completes; per-key failures are in the report.
func (r *Runner) Run(ctx context.Context, name string, keys []string, fn func(ctx context.Context, key string) error) (Report, error) {
	start := time.Now()
	report := Report{Name: name, Total: len(keys)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, key := range keys {
		key := key
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := r.retrier.Do(gctx, func(ctx context.Context) error {
				return fn(ctx, key)
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				report.Succeeded++
				return nil
			}
			report.Failures = append(report.Failures, Failure{Key: key, Err: err, Permanent: shared.IsPermanent(err)})
			r.log.Warn("batch unit failed",
				logger.Operation(name),
				logger.String("key", key),
				logger.Bool("permanent", shared.IsPermanent(err)),
				logger.Err(err),
			)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Key < report.Failures[j].Key })
	report.Duration = time.Since(start)

	r.log.Info("batch finished",
		logger.Operation(name),
		logger.Int("total", report.Total),
		logger.Int("succeeded", report.Succeeded),
		logger.Int("failed", report.Failed()),
		logger.Latency(report.Duration),
	)
	return report, ctx.Err()
}
