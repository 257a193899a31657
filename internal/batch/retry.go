package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrSubBatchFailed marks an attempt in which at least one request failed.
var ErrSubBatchFailed = errors.New("sub-batch failed")

// State is the lifecycle position of one sub-batch.
type State int

const (
	StatePending State = iota
	StateSubmitted
	StateComplete
	StateFailed
	StateDeferred
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateSubmitted:
		return "SUBMITTED"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	case StateDeferred:
		return "DEFERRED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Runner executes one sub-batch. *Pool satisfies it.
type Runner interface {
	Run(ctx context.Context, sb SubBatch, model string, concurrency int) ([]Result, []Failure)
}

// RetryConfig controls resubmission of failed sub-batches.
type RetryConfig struct {
	MaxRetries   int           // total attempts before deferral
	InitialDelay time.Duration // wait after the first failure
	MaxDelay     time.Duration // cap for the doubled delay
	Concurrency  int           // workers per attempt; <= 0 derives from size
}

// Outcome describes how a sub-batch left the state machine.
type Outcome struct {
	State        State
	Attempts     int
	ResultPath   string // set only when State == StateComplete
	DeferredPath string // set only when State == StateDeferred
	Results      int
	LastErr      error
}

// Coordinator drives sub-batches through
// PENDING -> SUBMITTED -> COMPLETE | FAILED, retrying FAILED with
// exponential backoff and moving to DEFERRED when attempts run out.
// A failed attempt resubmits the whole sub-batch.
type Coordinator struct {
	runner Runner
	cfg    RetryConfig
	files  *Files
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator writing results and deferred work
// through files. Zero config fields get defaults: 3 attempts, 2s initial
// delay, 60s cap.
func NewCoordinator(runner Runner, cfg RetryConfig, files *Files) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = 60 * time.Second
		if cfg.MaxDelay < cfg.InitialDelay {
			cfg.MaxDelay = cfg.InitialDelay
		}
	}
	return &Coordinator{
		runner: runner,
		cfg:    cfg,
		files:  files,
		sleep:  sleepCtx,
		logger: slog.Default(),
	}
}

// WithLogger sets the coordinator's logger and returns it.
func (c *Coordinator) WithLogger(logger *slog.Logger) *Coordinator {
	c.logger = logger
	return c
}

// Process runs sb to completion or deferral. It never returns an error:
// exhaustion is reported through Outcome and the sub-batch's requests are
// written to a deferred file for later reprocessing.
func (c *Coordinator) Process(ctx context.Context, stage string, sb SubBatch, model string) Outcome {
	out := Outcome{State: StatePending}
	delay := c.cfg.InitialDelay
	log := c.logger.With("stage", stage, "sub_batch", sb.Index, "requests", sb.Len())

	for {
		switch out.State {
		case StatePending:
			out.State = StateSubmitted

		case StateSubmitted:
			out.Attempts++
			results, failures := c.runner.Run(ctx, sb, model, c.cfg.Concurrency)
			if len(failures) > 0 {
				out.LastErr = fmt.Errorf("%w: %d of %d requests: %v", ErrSubBatchFailed, len(failures), sb.Len(), failures[0].Err)
				out.State = StateFailed
				continue
			}
			path, err := c.files.WriteResults(stage, results)
			if err != nil {
				out.LastErr = fmt.Errorf("writing results: %w", err)
				out.State = StateFailed
				continue
			}
			out.ResultPath = path
			out.Results = len(results)
			out.State = StateComplete

		case StateFailed:
			log.Warn("sub-batch attempt failed", "attempt", out.Attempts, "max_attempts", c.cfg.MaxRetries, "error", out.LastErr)
			if out.Attempts >= c.cfg.MaxRetries {
				out.State = StateDeferred
				continue
			}
			if err := c.sleep(ctx, delay); err != nil {
				out.LastErr = err
				out.State = StateDeferred
				continue
			}
			delay *= 2
			if delay > c.cfg.MaxDelay {
				delay = c.cfg.MaxDelay
			}
			out.State = StateSubmitted

		case StateComplete:
			log.Info("sub-batch complete", "attempts", out.Attempts, "results", out.Results, "path", out.ResultPath)
			return out

		case StateDeferred:
			path, err := c.files.WriteDeferred(stage, sb)
			if err != nil {
				log.Error("writing deferred sub-batch failed", "error", err)
			} else {
				out.DeferredPath = path
			}
			log.Warn("sub-batch deferred after exhausting retries", "attempts", out.Attempts, "path", out.DeferredPath, "error", out.LastErr)
			return out
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
