package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/sift/internal/llm"
)

// Completer issues a single chat completion and returns the raw response.
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (json.RawMessage, error)
}

// Result is one successful model call.
type Result struct {
	CustomID string          `json:"custom_id"`
	Response json.RawMessage `json:"response"`
}

// Failure is one failed model call.
type Failure struct {
	CustomID string
	Err      error
}

// PoolConfig bounds worker concurrency. When Run is called without an
// explicit concurrency, one worker is started per ItemsPerWorker requests,
// clamped to [MinWorkers, MaxWorkers].
type PoolConfig struct {
	MinWorkers     int
	MaxWorkers     int
	ItemsPerWorker int
}

// Pool drains sub-batches through a bounded number of concurrent workers.
type Pool struct {
	client Completer
	cfg    PoolConfig
	logger *slog.Logger
}

// NewPool creates a Pool calling client. Zero config fields get defaults:
// MinWorkers 2, MaxWorkers 16, ItemsPerWorker 10.
func NewPool(client Completer, cfg PoolConfig) *Pool {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 2
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 16
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.ItemsPerWorker <= 0 {
		cfg.ItemsPerWorker = 10
	}
	return &Pool{client: client, cfg: cfg, logger: slog.Default()}
}

// DefaultConcurrency returns ceil(n/perWorker) clamped to [floor, ceiling].
func DefaultConcurrency(n, floor, ceiling, perWorker int) int {
	if perWorker <= 0 {
		perWorker = 1
	}
	w := (n + perWorker - 1) / perWorker
	if w < floor {
		w = floor
	}
	if ceiling > 0 && w > ceiling {
		w = ceiling
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Run sends every request in sb through the pool and waits for the queue to
// drain. A failing request never stops its siblings. model, when non-empty,
// overrides the model in each request body. concurrency <= 0 derives the
// worker count from the sub-batch size.
func (p *Pool) Run(ctx context.Context, sb SubBatch, model string, concurrency int) ([]Result, []Failure) {
	n := len(sb.Requests)
	if n == 0 {
		return nil, nil
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency(n, p.cfg.MinWorkers, p.cfg.MaxWorkers, p.cfg.ItemsPerWorker)
	}
	if concurrency > n {
		concurrency = n
	}

	var (
		mu        sync.Mutex
		successes = make([]Result, 0, n)
		failures  []Failure
	)

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, req := range sb.Requests {
		g.Go(func() error {
			raw, err := p.call(ctx, req, model)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, Failure{CustomID: req.ID, Err: err})
			} else {
				successes = append(successes, Result{CustomID: req.ID, Response: raw})
			}
			return nil
		})
	}
	// Failures are collected per request, so workers always return nil.
	_ = g.Wait()

	p.logger.Debug("sub-batch drained",
		"sub_batch", sb.Index,
		"workers", concurrency,
		"succeeded", len(successes),
		"failed", len(failures),
	)
	return successes, failures
}

// call isolates one request, converting a panic into a failure.
func (p *Pool) call(ctx context.Context, req Request, model string) (raw json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic calling model for %s: %v", req.ID, r)
		}
	}()

	body := req.Body
	if model != "" {
		body.Model = model
	}
	raw, err = p.client.Complete(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("completing %s: %w", req.ID, err)
	}
	return raw, nil
}
