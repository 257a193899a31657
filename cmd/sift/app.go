package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/sift/internal/batch"
	"github.com/kalambet/sift/internal/config"
	"github.com/kalambet/sift/internal/ledger"
	"github.com/kalambet/sift/internal/llm"
	"github.com/kalambet/sift/internal/pipeline"
	"github.com/kalambet/sift/internal/prompt"
	"github.com/kalambet/sift/internal/ratelimit"
	"github.com/kalambet/sift/internal/source"
	"github.com/kalambet/sift/internal/storage"
	"github.com/kalambet/sift/internal/tokens"
)

// app holds the on-disk state every command works against.
type app struct {
	cfg    config.Config
	store  *storage.Store
	ledger *ledger.Ledger
	files  *batch.Files
}

func openApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return &app{
		cfg:    cfg,
		store:  store,
		ledger: ledger.Open(cfg.Storage.LedgerFile(), cfg.Budget.MonthlyLimit, ledger.WithLogger(slog.Default())),
		files:  batch.NewFiles(cfg.Storage.ResultsDir(), cfg.Storage.DeferredDir()),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}

// orchestrator wires the model client, batch layer and content source.
// It fails without an LLM key; read-only commands never call it.
func (a *app) orchestrator() (*pipeline.Orchestrator, error) {
	if err := a.cfg.RequireLLM(); err != nil {
		return nil, err
	}
	logger := slog.Default()

	client := llm.NewClientWithBaseURL(a.cfg.LLM.APIKey, a.cfg.LLM.BaseURL)
	pool := batch.NewPool(client, batch.PoolConfig{
		MinWorkers:     a.cfg.Batch.MinWorkers,
		MaxWorkers:     a.cfg.Batch.MaxWorkers,
		ItemsPerWorker: a.cfg.Batch.ItemsPerWorker,
	})
	coord := batch.NewCoordinator(pool, batch.RetryConfig{
		MaxRetries:   a.cfg.Batch.MaxRetries,
		InitialDelay: a.cfg.Batch.InitialBackoff,
		MaxDelay:     a.cfg.Batch.MaxBackoff,
	}, a.files).WithLogger(logger)

	estimator := tokens.New(tokens.DefaultFallbackEncoding, tokens.DefaultEstimate)
	prompts := prompt.NewBuilder(a.cfg.LLM.Product, estimator, a.cfg.LLM.MaxBodyTokens)

	limiter := ratelimit.New(a.cfg.Source.RequestsPerMinute)
	src := source.NewReddit(sourceConfig(a.cfg), limiter, &http.Client{Timeout: 30 * time.Second}).WithLogger(logger)

	return pipeline.New(pipelineConfig(a.cfg), pipeline.Deps{
		Source:      src,
		Store:       a.store,
		Ledger:      a.ledger,
		Coordinator: coord,
		Prompts:     prompts,
		Files:       a.files,
		Logger:      logger,
	}), nil
}

func sourceConfig(cfg config.Config) source.Config {
	s := cfg.Source
	return source.Config{
		BaseURL:         s.BaseURL,
		OAuthBaseURL:    s.OAuthBaseURL,
		AuthURL:         s.AuthURL,
		ClientID:        s.ClientID,
		ClientSecret:    s.ClientSecret,
		UserAgent:       s.UserAgent,
		MinAgeDays:      s.MinAgeDays,
		MaxAgeDays:      s.MaxAgeDays,
		IncludeComments: s.IncludeComments,
		CommentLimit:    s.CommentLimit,
	}
}

func price(p config.StagePrice) pipeline.Price {
	return pipeline.Price{InputPer1K: p.Input, OutputPer1K: p.Output, AvgOutputTokens: p.AvgOutputTokens}
}

func pipelineConfig(cfg config.Config) pipeline.Config {
	return pipeline.Config{
		PrimaryGroups:     cfg.Source.PrimaryGroups,
		MaxItemsPerDay:    cfg.Source.MaxItemsPerDay,
		PrimaryPercentage: cfg.Source.PrimaryPercentage,

		RetentionDays:     cfg.Storage.RetentionDays,
		FileRetentionDays: cfg.Storage.FileRetentionDays,

		TokenLimit: cfg.Batch.TokenLimit,

		FilterModel:    cfg.LLM.FilterModel,
		InsightModel:   cfg.LLM.InsightModel,
		ClusterModel:   cfg.LLM.ClusterModel,
		DiscoveryModel: cfg.LLM.DiscoveryModel,

		FilterPrice:    price(cfg.Pricing.Filter),
		InsightPrice:   price(cfg.Pricing.Insight),
		ClusterPrice:   price(cfg.Pricing.Cluster),
		DiscoveryPrice: price(cfg.Pricing.Discovery),

		Weights: pipeline.Weights{
			Relevance: cfg.Scoring.RelevanceWeight,
			Emotion:   cfg.Scoring.EmotionWeight,
			Pain:      cfg.Scoring.PainWeight,
		},
		Threshold: cfg.Scoring.Threshold,

		ClusterEnabled:    cfg.Cluster.Enabled,
		ClusterMinMembers: cfg.Cluster.MinMembers,

		DiscoveryEnabled:      cfg.Discovery.Enabled,
		DiscoveryLimit:        cfg.Discovery.Limit,
		DiscoveryIntervalDays: cfg.Discovery.IntervalDays,
	}
}
