// Package pipeline sequences the acquisition and scoring stages of one run:
// CLEAN, ACQUIRE, FILTER, SELECT, DEEP_INSIGHT, CLUSTER and DISCOVER.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/sift/internal/batch"
	"github.com/kalambet/sift/internal/prompt"
	"github.com/kalambet/sift/internal/storage"
)

// ErrBudgetExceeded stops a run when a stage's estimated cost does not fit
// in the remaining monthly budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// errNoInput marks a stage whose input set is empty.
var errNoInput = errors.New("no input")

// Stage names a pipeline state.
type Stage string

const (
	StageClean       Stage = "CLEAN"
	StageAcquire     Stage = "ACQUIRE"
	StageFilter      Stage = "FILTER"
	StageSelect      Stage = "SELECT"
	StageDeepInsight Stage = "DEEP_INSIGHT"
	StageCluster     Stage = "CLUSTER"
	StageDiscover    Stage = "DISCOVER"
	StageDone        Stage = "DONE"
)

// ContentSource yields raw items for a source group.
type ContentSource interface {
	Fetch(ctx context.Context, group string, limit int) ([]storage.Item, error)
}

// Store is the persistence the orchestrator needs. *storage.Store satisfies it.
type Store interface {
	PurgeOlderThan(cutoff time.Time) (storage.PurgeResult, error)
	SeenIDs(ids []string) (map[string]bool, error)
	SaveItem(item storage.Item) (bool, error)
	GetItems(ids []string) (map[string]storage.Item, error)
	UpdateScores(itemID string, u storage.ScoreUpdate) error
	GetScores(ids []string, unprocessedOnly bool) (map[string]storage.ScoreRecord, error)
	ListFilterResults(unprocessedOnly bool) ([]storage.ScoreRecord, error)
	RecentPainPoints(limit int) ([]string, error)
	ListExploratoryGroups() ([]storage.ExploratoryGroup, error)
	ReplaceExploratoryGroups(groups []storage.ExploratoryGroup) error
	LastDiscoveryAt() (time.Time, error)
	SaveRun(r storage.Run) error
}

// Ledger gates and records spend. *ledger.Ledger satisfies it.
type Ledger interface {
	CanProcess(estimatedCost float64) bool
	AddCost(amount float64) error
	RemainingBudget() float64
}

// Coordinator resolves one sub-batch. *batch.Coordinator satisfies it.
type Coordinator interface {
	Process(ctx context.Context, stage string, sb batch.SubBatch, model string) batch.Outcome
}

// FilePruner removes result and deferred files older than a cutoff.
type FilePruner interface {
	Prune(cutoff time.Time) (int, error)
}

// Deps are the collaborators of an Orchestrator. Files and Logger are optional.
type Deps struct {
	Source      ContentSource
	Store       Store
	Ledger      Ledger
	Coordinator Coordinator
	Prompts     *prompt.Builder
	Files       FilePruner
	Logger      *slog.Logger
}

// StageReport records how one stage ended.
type StageReport struct {
	Stage    Stage         `json:"stage"`
	Count    int           `json:"count"`
	Deferred int           `json:"deferred,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary counts how many items reached each stage of one run.
type Summary struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Acquired   int           `json:"acquired"`
	Filtered   int           `json:"filtered"`
	Selected   int           `json:"selected"`
	Insighted  int           `json:"insighted"`
	Clustered  int           `json:"clustered"`
	Discovered int           `json:"discovered"`
	Deferred   int           `json:"deferred"`
	Cost       float64       `json:"cost"`
	StopReason string        `json:"stop_reason"`
	Stages     []StageReport `json:"stages"`
}

// run carries the stage outputs of one pipeline run.
type run struct {
	acquired  []storage.Item
	selected  []string
	insighted []insight
	cost      float64
	deferred  int
}

// insight is one deep-processed item and the pain point extracted from it.
type insight struct {
	item      storage.Item
	painPoint string
}

type stageFunc func(ctx context.Context, r *run, rep *StageReport) error

// Orchestrator runs the stages in order. Only one run executes at a time.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// New creates an Orchestrator. Zero config fields take defaults.
func New(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run executes one pipeline run and returns its summary. It does not return
// an error: budget stops, empty inputs and stage failures end the run early
// and are reported through Summary.StopReason and Summary.Stages.
func (o *Orchestrator) Run(ctx context.Context) Summary {
	sum := Summary{RunID: uuid.NewString(), StartedAt: o.now().UTC()}
	if !o.mu.TryLock() {
		sum.StopReason = "another run is in progress"
		sum.FinishedAt = sum.StartedAt
		return sum
	}
	defer o.mu.Unlock()

	log := o.logger.With("run_id", sum.RunID)
	log.Info("pipeline run started")

	stages := []struct {
		stage Stage
		fn    stageFunc
		// optional stages skip on empty input or failure without ending the run
		optional bool
	}{
		{StageClean, o.clean, true},
		{StageAcquire, o.acquire, false},
		{StageFilter, o.filter, false},
		{StageSelect, o.selectItems, false},
		{StageDeepInsight, o.deepInsight, false},
		{StageCluster, o.cluster, true},
		{StageDiscover, o.discover, true},
	}

	r := &run{}
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			sum.StopReason = fmt.Sprintf("%s: %v", st.stage, err)
			break
		}

		rep := StageReport{Stage: st.stage}
		start := time.Now()
		err := o.runStage(ctx, st.fn, r, &rep)
		rep.Duration = time.Since(start)
		o.record(&sum, rep)

		switch {
		case err == nil:
			log.Info("stage complete", "stage", st.stage, "count", rep.Count, "deferred", rep.Deferred, "duration", rep.Duration)
			continue
		case errors.Is(err, ErrBudgetExceeded):
			sum.Stages[len(sum.Stages)-1].Error = err.Error()
			sum.StopReason = fmt.Sprintf("%s: %v", st.stage, err)
			log.Error("budget gate stopped the run", "stage", st.stage, "error", err)
		case errors.Is(err, errNoInput):
			sum.Stages[len(sum.Stages)-1].Skipped = true
			if st.optional {
				log.Info("stage skipped", "stage", st.stage)
				continue
			}
			sum.StopReason = fmt.Sprintf("%s: no input", st.stage)
			log.Info("stage has no input, finishing run", "stage", st.stage)
		default:
			sum.Stages[len(sum.Stages)-1].Error = err.Error()
			log.Error("stage failed", "stage", st.stage, "error", err)
			if st.optional {
				continue
			}
			sum.StopReason = fmt.Sprintf("%s failed: %v", st.stage, err)
		}
		break
	}

	if sum.StopReason == "" {
		sum.StopReason = string(StageDone)
	}
	sum.Cost = r.cost
	sum.Deferred = r.deferred
	sum.FinishedAt = o.now().UTC()

	if err := o.deps.Store.SaveRun(storage.Run{
		ID:         sum.RunID,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Acquired:   sum.Acquired,
		Filtered:   sum.Filtered,
		Selected:   sum.Selected,
		Insighted:  sum.Insighted,
		Clustered:  sum.Clustered,
		Discovered: sum.Discovered,
		Deferred:   sum.Deferred,
		Cost:       sum.Cost,
		StopReason: sum.StopReason,
	}); err != nil {
		log.Warn("saving run summary failed", "error", err)
	}

	log.Info("pipeline run finished",
		"acquired", sum.Acquired,
		"filtered", sum.Filtered,
		"selected", sum.Selected,
		"insighted", sum.Insighted,
		"clustered", sum.Clustered,
		"discovered", sum.Discovered,
		"deferred", sum.Deferred,
		"cost", sum.Cost,
		"stop_reason", sum.StopReason,
	)
	return sum
}

// runStage calls fn and converts a panic into a stage error.
func (o *Orchestrator) runStage(ctx context.Context, fn stageFunc, r *run, rep *StageReport) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, r, rep)
}

func (o *Orchestrator) record(sum *Summary, rep StageReport) {
	switch rep.Stage {
	case StageAcquire:
		sum.Acquired = rep.Count
	case StageFilter:
		sum.Filtered = rep.Count
	case StageSelect:
		sum.Selected = rep.Count
	case StageDeepInsight:
		sum.Insighted = rep.Count
	case StageCluster:
		sum.Clustered = rep.Count
	case StageDiscover:
		sum.Discovered = rep.Count
	}
	sum.Stages = append(sum.Stages, rep)
}
