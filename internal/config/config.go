package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Storage   StorageConfig
	Source    SourceConfig
	LLM       LLMConfig
	Batch     BatchConfig
	Budget    BudgetConfig
	Pricing   PricingConfig
	Scoring   ScoringConfig
	Cluster   ClusterConfig
	Discovery DiscoveryConfig
	Schedule  ScheduleConfig
	Server    ServerConfig
	Log       LogConfig

	// Path is the config file the values were read from.
	Path string
}

type StorageConfig struct {
	DataDir           string
	RetentionDays     int
	FileRetentionDays int
}

// ResultsDir is where completed sub-batch results are written.
func (s StorageConfig) ResultsDir() string { return filepath.Join(s.DataDir, "results") }

// DeferredDir is where exhausted sub-batches are written for reprocessing.
func (s StorageConfig) DeferredDir() string { return filepath.Join(s.DataDir, "deferred") }

// LedgerFile is the monthly cost ledger.
func (s StorageConfig) LedgerFile() string { return filepath.Join(s.DataDir, "cost_ledger.json") }

type SourceConfig struct {
	BaseURL           string
	OAuthBaseURL      string
	AuthURL           string
	ClientID          string
	ClientSecret      string
	UserAgent         string
	PrimaryGroups     []string
	MaxItemsPerDay    int
	PrimaryPercentage float64
	MinAgeDays        int
	MaxAgeDays        int
	IncludeComments   bool
	CommentLimit      int
	RequestsPerMinute int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	FilterModel    string
	InsightModel   string
	ClusterModel   string
	DiscoveryModel string
	Product        string
	MaxBodyTokens  int
}

type BatchConfig struct {
	TokenLimit     int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MinWorkers     int
	MaxWorkers     int
	ItemsPerWorker int
}

type BudgetConfig struct {
	MonthlyLimit float64
}

// StagePrice is USD per 1K tokens plus the assumed reply size.
type StagePrice struct {
	Input           float64
	Output          float64
	AvgOutputTokens int
}

type PricingConfig struct {
	Filter    StagePrice
	Insight   StagePrice
	Cluster   StagePrice
	Discovery StagePrice
}

type ScoringConfig struct {
	RelevanceWeight float64
	EmotionWeight   float64
	PainWeight      float64
	Threshold       float64
}

type ClusterConfig struct {
	Enabled    bool
	MinMembers int
}

type DiscoveryConfig struct {
	Enabled      bool
	Limit        int
	IntervalDays int
}

type ScheduleConfig struct {
	DailyAt string // HH:MM, UTC
}

type ServerConfig struct {
	Addr  string
	Token string
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			DataDir:           defaultDataDir(),
			RetentionDays:     30,
			FileRetentionDays: 14,
		},
		Source: SourceConfig{
			BaseURL:           "https://www.reddit.com",
			OAuthBaseURL:      "https://oauth.reddit.com",
			AuthURL:           "https://www.reddit.com/api/v1/access_token",
			UserAgent:         "sift/1.0",
			PrimaryGroups:     []string{"devops", "sysadmin", "webdev"},
			MaxItemsPerDay:    50,
			PrimaryPercentage: 80,
			MinAgeDays:        0,
			MaxAgeDays:        7,
			IncludeComments:   false,
			CommentLimit:      5,
			RequestsPerMinute: 60,
		},
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			FilterModel:    "gpt-4.1-mini",
			InsightModel:   "gpt-4.1",
			ClusterModel:   "gpt-4.1",
			DiscoveryModel: "gpt-4.1",
			Product:        "a product that schedules HTTP jobs like a hosted cron service",
			MaxBodyTokens:  2000,
		},
		Batch: BatchConfig{
			TokenLimit:     20000,
			MaxRetries:     3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     60 * time.Second,
			MinWorkers:     2,
			MaxWorkers:     16,
			ItemsPerWorker: 10,
		},
		Budget: BudgetConfig{MonthlyLimit: 10},
		Pricing: PricingConfig{
			Filter:    StagePrice{Input: 0.15, Output: 0.60, AvgOutputTokens: 120},
			Insight:   StagePrice{Input: 2.00, Output: 8.00, AvgOutputTokens: 300},
			Cluster:   StagePrice{Input: 2.00, Output: 8.00, AvgOutputTokens: 250},
			Discovery: StagePrice{Input: 2.00, Output: 8.00, AvgOutputTokens: 600},
		},
		Scoring: ScoringConfig{
			RelevanceWeight: 0.5,
			EmotionWeight:   0.2,
			PainWeight:      0.3,
			Threshold:       6.5,
		},
		Cluster:   ClusterConfig{Enabled: true, MinMembers: 2},
		Discovery: DiscoveryConfig{Enabled: false, Limit: 12, IntervalDays: 7},
		Schedule:  ScheduleConfig{DailyAt: "06:00"},
		Server:    ServerConfig{Addr: "127.0.0.1:8088"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration in increasing precedence: built-in defaults, the
// YAML file at path (DefaultPath when empty), a .env file in the working
// directory, and SIFT_* environment variables. Missing files are fine.
func Load(path string) (Config, error) {
	return loadWith(path, ".env")
}

func loadWith(path, envFile string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			// godotenv.Load never overrides variables already set.
			if err := godotenv.Load(envFile); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v\n", envFile, err)
			}
		}
	}

	cfg := defaults()
	cfg.Path = path

	b, err := newFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// RequireLLM reports an error when no model API key is configured.
func (c Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("missing required config: LLM API key. Set it via environment variable SIFT_LLM_API_KEY or OPENAI_API_KEY (a .env file in the working directory also works)")
	}
	return nil
}

// DefaultPath returns $XDG_CONFIG_HOME/sift/config.yaml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "sift", "config.yaml")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sift-data"
		}
	}
	return filepath.Join(dir, "sift")
}
