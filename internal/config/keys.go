package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList // comma-separated in env, a sequence or a string in YAML
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string // fallback env names, checked when env is unset
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "storage.data_dir", typ: kString, env: "SIFT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.retention_days", typ: kInt, env: "SIFT_STORAGE_RETENTION_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Storage.RetentionDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.RetentionDays },
	},
	{
		key: "storage.file_retention_days", typ: kInt, env: "SIFT_STORAGE_FILE_RETENTION_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Storage.FileRetentionDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.FileRetentionDays },
	},
	{
		key: "source.base_url", typ: kString, env: "SIFT_SOURCE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Source.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.BaseURL },
	},
	{
		key: "source.oauth_base_url", typ: kString, env: "SIFT_SOURCE_OAUTH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Source.OAuthBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.OAuthBaseURL },
	},
	{
		key: "source.auth_url", typ: kString, env: "SIFT_SOURCE_AUTH_URL",
		apply:   func(cfg *Config, v any) { cfg.Source.AuthURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.AuthURL },
	},
	{
		key: "source.client_id", typ: kString, env: "SIFT_SOURCE_CLIENT_ID",
		aliases: []string{"REDDIT_CLIENT_ID"},
		apply:   func(cfg *Config, v any) { cfg.Source.ClientID = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.ClientID },
	},
	{
		key: "source.client_secret", typ: kString, env: "SIFT_SOURCE_CLIENT_SECRET",
		secret: true,
		aliases: []string{"REDDIT_CLIENT_SECRET"},
		apply:   func(cfg *Config, v any) { cfg.Source.ClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.ClientSecret },
	},
	{
		key: "source.user_agent", typ: kString, env: "SIFT_SOURCE_USER_AGENT",
		aliases: []string{"REDDIT_USER_AGENT"},
		apply:   func(cfg *Config, v any) { cfg.Source.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.UserAgent },
	},
	{
		key: "source.primary_groups", typ: kList, env: "SIFT_SOURCE_PRIMARY_GROUPS",
		apply:   func(cfg *Config, v any) { cfg.Source.PrimaryGroups = v.([]string) },
		extract: func(cfg Config) any { return cfg.Source.PrimaryGroups },
	},
	{
		key: "source.max_items_per_day", typ: kInt, env: "SIFT_SOURCE_MAX_ITEMS_PER_DAY",
		apply:   func(cfg *Config, v any) { cfg.Source.MaxItemsPerDay = v.(int) },
		extract: func(cfg Config) any { return cfg.Source.MaxItemsPerDay },
	},
	{
		key: "source.primary_percentage", typ: kFloat, env: "SIFT_SOURCE_PRIMARY_PERCENTAGE",
		apply:   func(cfg *Config, v any) { cfg.Source.PrimaryPercentage = v.(float64) },
		extract: func(cfg Config) any { return cfg.Source.PrimaryPercentage },
	},
	{
		key: "source.min_age_days", typ: kInt, env: "SIFT_SOURCE_MIN_AGE_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Source.MinAgeDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Source.MinAgeDays },
	},
	{
		key: "source.max_age_days", typ: kInt, env: "SIFT_SOURCE_MAX_AGE_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Source.MaxAgeDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Source.MaxAgeDays },
	},
	{
		key: "source.include_comments", typ: kBool, env: "SIFT_SOURCE_INCLUDE_COMMENTS",
		apply:   func(cfg *Config, v any) { cfg.Source.IncludeComments = v.(bool) },
		extract: func(cfg Config) any { return cfg.Source.IncludeComments },
	},
	{
		key: "source.comment_limit", typ: kInt, env: "SIFT_SOURCE_COMMENT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Source.CommentLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Source.CommentLimit },
	},
	{
		key: "source.requests_per_minute", typ: kInt, env: "SIFT_SOURCE_REQUESTS_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Source.RequestsPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Source.RequestsPerMinute },
	},
	{
		key: "llm.api_key", typ: kString, env: "SIFT_LLM_API_KEY",
		secret: true,
		aliases: []string{"OPENAI_API_KEY"},
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.base_url", typ: kString, env: "SIFT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.filter_model", typ: kString, env: "SIFT_LLM_FILTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.FilterModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.FilterModel },
	},
	{
		key: "llm.insight_model", typ: kString, env: "SIFT_LLM_INSIGHT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.InsightModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.InsightModel },
	},
	{
		key: "llm.cluster_model", typ: kString, env: "SIFT_LLM_CLUSTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ClusterModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ClusterModel },
	},
	{
		key: "llm.discovery_model", typ: kString, env: "SIFT_LLM_DISCOVERY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.DiscoveryModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.DiscoveryModel },
	},
	{
		key: "llm.product", typ: kString, env: "SIFT_LLM_PRODUCT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Product = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Product },
	},
	{
		key: "llm.max_body_tokens", typ: kInt, env: "SIFT_LLM_MAX_BODY_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxBodyTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxBodyTokens },
	},
	{
		key: "batch.token_limit", typ: kInt, env: "SIFT_BATCH_TOKEN_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Batch.TokenLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.TokenLimit },
	},
	{
		key: "batch.max_retries", typ: kInt, env: "SIFT_BATCH_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Batch.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.MaxRetries },
	},
	{
		key: "batch.initial_backoff", typ: kDuration, env: "SIFT_BATCH_INITIAL_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Batch.InitialBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Batch.InitialBackoff },
	},
	{
		key: "batch.max_backoff", typ: kDuration, env: "SIFT_BATCH_MAX_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Batch.MaxBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Batch.MaxBackoff },
	},
	{
		key: "batch.min_workers", typ: kInt, env: "SIFT_BATCH_MIN_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Batch.MinWorkers = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.MinWorkers },
	},
	{
		key: "batch.max_workers", typ: kInt, env: "SIFT_BATCH_MAX_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Batch.MaxWorkers = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.MaxWorkers },
	},
	{
		key: "batch.items_per_worker", typ: kInt, env: "SIFT_BATCH_ITEMS_PER_WORKER",
		apply:   func(cfg *Config, v any) { cfg.Batch.ItemsPerWorker = v.(int) },
		extract: func(cfg Config) any { return cfg.Batch.ItemsPerWorker },
	},
	{
		key: "budget.monthly_limit", typ: kFloat, env: "SIFT_BUDGET_MONTHLY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Budget.MonthlyLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.Budget.MonthlyLimit },
	},
	{
		key: "pricing.filter.input", typ: kFloat, env: "SIFT_PRICING_FILTER_INPUT",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Filter.Input = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.Filter.Input },
	},
	{
		key: "pricing.filter.output", typ: kFloat, env: "SIFT_PRICING_FILTER_OUTPUT",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Filter.Output = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.Filter.Output },
	},
	{
		key: "pricing.filter.avg_output_tokens", typ: kInt, env: "SIFT_PRICING_FILTER_AVG_OUTPUT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Filter.AvgOutputTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Pricing.Filter.AvgOutputTokens },
	},
	{
		key: "pricing.insight.input", typ: kFloat, env: "SIFT_PRICING_INSIGHT_INPUT",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Insight.Input = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.Insight.Input },
	},
	{
		key: "pricing.insight.output", typ: kFloat, env: "SIFT_PRICING_INSIGHT_OUTPUT",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Insight.Output = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.Insight.Output },
	},
	{
		key: "pricing.insight.avg_output_tokens", typ: kInt, env: "SIFT_PRICING_INSIGHT_AVG_OUTPUT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Insight.AvgOutputTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Pricing.Insight.AvgOutputTokens },
	},
	{
		key: "pricing.cluster.input", typ: kFloat, env: "SIFT_PRICING_CLUSTER_INPUT",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Cluster.Input = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.Cluster.Input },
	},
	{
		key: "pricing.cluster.output", typ: kFloat, env: "SIFT_PRICING_CLUSTER_OUTPUT",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Cluster.Output = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.Cluster.Output },
	},
	{
		key: "pricing.cluster.avg_output_tokens", typ: kInt, env: "SIFT_PRICING_CLUSTER_AVG_OUTPUT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Cluster.AvgOutputTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Pricing.Cluster.AvgOutputTokens },
	},
	{
		key: "pricing.discovery.input", typ: kFloat, env: "SIFT_PRICING_DISCOVERY_INPUT",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Discovery.Input = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.Discovery.Input },
	},
	{
		key: "pricing.discovery.output", typ: kFloat, env: "SIFT_PRICING_DISCOVERY_OUTPUT",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Discovery.Output = v.(float64) },
		extract: func(cfg Config) any { return cfg.Pricing.Discovery.Output },
	},
	{
		key: "pricing.discovery.avg_output_tokens", typ: kInt, env: "SIFT_PRICING_DISCOVERY_AVG_OUTPUT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Pricing.Discovery.AvgOutputTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Pricing.Discovery.AvgOutputTokens },
	},
	{
		key: "scoring.relevance_weight", typ: kFloat, env: "SIFT_SCORING_RELEVANCE_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Scoring.RelevanceWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Scoring.RelevanceWeight },
	},
	{
		key: "scoring.emotion_weight", typ: kFloat, env: "SIFT_SCORING_EMOTION_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Scoring.EmotionWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Scoring.EmotionWeight },
	},
	{
		key: "scoring.pain_weight", typ: kFloat, env: "SIFT_SCORING_PAIN_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Scoring.PainWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Scoring.PainWeight },
	},
	{
		key: "scoring.threshold", typ: kFloat, env: "SIFT_SCORING_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Scoring.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Scoring.Threshold },
	},
	{
		key: "cluster.enabled", typ: kBool, env: "SIFT_CLUSTER_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Cluster.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Cluster.Enabled },
	},
	{
		key: "cluster.min_members", typ: kInt, env: "SIFT_CLUSTER_MIN_MEMBERS",
		apply:   func(cfg *Config, v any) { cfg.Cluster.MinMembers = v.(int) },
		extract: func(cfg Config) any { return cfg.Cluster.MinMembers },
	},
	{
		key: "discovery.enabled", typ: kBool, env: "SIFT_DISCOVERY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Discovery.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Discovery.Enabled },
	},
	{
		key: "discovery.limit", typ: kInt, env: "SIFT_DISCOVERY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Discovery.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Discovery.Limit },
	},
	{
		key: "discovery.interval_days", typ: kInt, env: "SIFT_DISCOVERY_INTERVAL_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Discovery.IntervalDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Discovery.IntervalDays },
	},
	{
		key: "schedule.daily_at", typ: kString, env: "SIFT_SCHEDULE_DAILY_AT",
		apply:   func(cfg *Config, v any) { cfg.Schedule.DailyAt = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.DailyAt },
	},
	{
		key: "server.addr", typ: kString, env: "SIFT_SERVER_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Server.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Addr },
	},
	{
		key: "server.token", typ: kString, env: "SIFT_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "SIFT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "SIFT_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	case kList:
		return "list"
	default:
		return "string"
	}
}

// parse converts raw to the Go value the key's apply function expects.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case kFloat:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case kDuration:
		return time.ParseDuration(strings.TrimSpace(raw))
	case kList:
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := lookupEnv(s)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func lookupEnv(s keySpec) (name, value string) {
	if v := os.Getenv(s.env); v != "" {
		return s.env, v
	}
	for _, a := range s.aliases {
		if v := os.Getenv(a); v != "" {
			return a, v
		}
	}
	return s.env, ""
}
