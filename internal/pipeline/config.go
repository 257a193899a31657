package pipeline

// Price is the per-1K-token cost of one stage's model, plus the output size
// assumed when estimating a request before it runs.
type Price struct {
	InputPer1K      float64
	OutputPer1K     float64
	AvgOutputTokens int
}

// Cost estimates one request of inputTokens tokens.
func (p Price) Cost(inputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputPer1K + float64(p.AvgOutputTokens)/1000*p.OutputPer1K
}

// Weights combine the three filter scores into the composite rank.
type Weights struct {
	Relevance float64
	Emotion   float64
	Pain      float64
}

// Composite returns the weighted sum of the three scores.
func (w Weights) Composite(relevance, emotion, pain float64) float64 {
	return w.Relevance*relevance + w.Emotion*emotion + w.Pain*pain
}

// Config tunes one Orchestrator.
type Config struct {
	PrimaryGroups     []string
	MaxItemsPerDay    int
	PrimaryPercentage float64 // 0-100; the rest goes to exploratory groups

	RetentionDays     int // items and history; <= 0 disables purge
	FileRetentionDays int // result and deferred files; <= 0 disables pruning

	TokenLimit int // per sub-batch

	FilterModel    string
	InsightModel   string
	ClusterModel   string
	DiscoveryModel string

	FilterPrice    Price
	InsightPrice   Price
	ClusterPrice   Price
	DiscoveryPrice Price

	Weights   Weights
	Threshold float64

	ClusterEnabled    bool
	ClusterMinMembers int

	DiscoveryEnabled      bool
	DiscoveryLimit        int
	DiscoveryIntervalDays int
	DiscoveryPainSample   int
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		MaxItemsPerDay:    50,
		PrimaryPercentage: 80,
		RetentionDays:     30,
		FileRetentionDays: 14,
		TokenLimit:        20000,

		FilterModel:    "gpt-4.1-mini",
		InsightModel:   "gpt-4.1",
		ClusterModel:   "gpt-4.1",
		DiscoveryModel: "gpt-4.1",

		FilterPrice:    Price{InputPer1K: 0.15, OutputPer1K: 0.60, AvgOutputTokens: 120},
		InsightPrice:   Price{InputPer1K: 2.00, OutputPer1K: 8.00, AvgOutputTokens: 300},
		ClusterPrice:   Price{InputPer1K: 2.00, OutputPer1K: 8.00, AvgOutputTokens: 250},
		DiscoveryPrice: Price{InputPer1K: 2.00, OutputPer1K: 8.00, AvgOutputTokens: 600},

		Weights:   Weights{Relevance: 0.5, Emotion: 0.2, Pain: 0.3},
		Threshold: 6.5,

		ClusterEnabled:    true,
		ClusterMinMembers: 2,

		DiscoveryLimit:        12,
		DiscoveryIntervalDays: 7,
		DiscoveryPainSample:   20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxItemsPerDay <= 0 {
		c.MaxItemsPerDay = d.MaxItemsPerDay
	}
	if c.PrimaryPercentage <= 0 || c.PrimaryPercentage > 100 {
		c.PrimaryPercentage = d.PrimaryPercentage
	}
	if c.FilterModel == "" {
		c.FilterModel = d.FilterModel
	}
	if c.InsightModel == "" {
		c.InsightModel = d.InsightModel
	}
	if c.ClusterModel == "" {
		c.ClusterModel = d.ClusterModel
	}
	if c.DiscoveryModel == "" {
		c.DiscoveryModel = d.DiscoveryModel
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.ClusterMinMembers <= 0 {
		c.ClusterMinMembers = d.ClusterMinMembers
	}
	if c.DiscoveryLimit <= 0 {
		c.DiscoveryLimit = d.DiscoveryLimit
	}
	if c.DiscoveryPainSample <= 0 {
		c.DiscoveryPainSample = d.DiscoveryPainSample
	}
	return c
}
