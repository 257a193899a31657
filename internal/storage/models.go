package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const (
	KindPrimary   = "primary"
	KindSecondary = "secondary"

	CommunityPrimary     = "primary"
	CommunityExploratory = "exploratory"
)

// Item is one fetched document. Immutable once stored.
type Item struct {
	ID           string
	URL          string
	Title        string
	Body         string
	Group        string
	ParentID     string // set for secondary items (comments)
	Kind         string // KindPrimary or KindSecondary
	Community    string // CommunityPrimary or CommunityExploratory
	CreatedAt    time.Time
	DiscoveredAt time.Time
}

// ScoreRecord holds the filter and deep-insight results for one item.
// Nil pointers are fields not yet scored.
type ScoreRecord struct {
	ItemID         string
	Relevance      *float64
	Emotion        *float64
	Pain           *float64
	Summary        string
	Composite      *float64
	Label          string
	Tags           []string
	ROIWeight      *int
	PainPoint      string
	Justification  string
	ClusterKey     string
	ClusterSummary string
	Processed      bool
	ProcessedAt    time.Time
	UpdatedAt      time.Time
}

// ScoreUpdate is a partial score write. Only non-nil fields are applied, so
// a later phase never erases what an earlier phase recorded.
type ScoreUpdate struct {
	Relevance      *float64
	Emotion        *float64
	Pain           *float64
	Summary        *string
	Composite      *float64
	Label          *string
	Tags           []string // nil leaves tags unchanged
	ROIWeight      *int
	PainPoint      *string
	Justification  *string
	ClusterKey     *string
	ClusterSummary *string
	Processed      *bool
}

// ExploratoryGroup is an adjacent source group suggested by discovery.
type ExploratoryGroup struct {
	Name                string
	Reason              string
	PainSignalPct       float64
	SolutionRequestsPct float64
	EngagementLevel     string
	DiscoveredAt        time.Time
}

// Run is the persisted summary of one pipeline run.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Acquired   int       `json:"acquired"`
	Filtered   int       `json:"filtered"`
	Selected   int       `json:"selected"`
	Insighted  int       `json:"insighted"`
	Clustered  int       `json:"clustered"`
	Discovered int       `json:"discovered"`
	Deferred   int       `json:"deferred"`
	Cost       float64   `json:"cost"`
	StopReason string    `json:"stop_reason"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
