package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/sift/internal/llm"
)

// ErrIncomplete is returned when a reply lacks a required field.
var ErrIncomplete = errors.New("reply missing required fields")

// FilterScores is the first-pass scoring reply.
type FilterScores struct {
	Relevance float64 `json:"relevance_score"`
	Emotion   float64 `json:"emotional_intensity"`
	Pain      float64 `json:"pain_point_clarity"`
	Summary   string  `json:"summary"`
}

// Insight is the deep-analysis reply. Fields other than PainPoint are nil
// when the model left them out.
type Insight struct {
	PainPoint     string   `json:"pain_point"`
	LeadType      *string  `json:"lead_type"`
	Tags          []string `json:"tags"`
	ROIWeight     *int     `json:"roi_weight"`
	Justification *string  `json:"justification"`
}

// ClusterSummary is the aggregation reply for one thread.
type ClusterSummary struct {
	Summary string   `json:"summary"`
	Themes  []string `json:"themes"`
}

// Suggestion is one adjacent community proposed by discovery.
type Suggestion struct {
	Group               string  `json:"group"`
	Reason              string  `json:"reason"`
	PainSignalPct       float64 `json:"pain_signal_pct"`
	SolutionRequestsPct float64 `json:"solution_requests_pct"`
	EngagementLevel     string  `json:"engagement_level"`
}

// ParseFilter decodes a filter reply. All three scores are required and are
// clamped to 0-10. Numeric strings are accepted.
func ParseFilter(content string) (FilterScores, error) {
	var raw struct {
		Relevance *flexFloat `json:"relevance_score"`
		Emotion   *flexFloat `json:"emotional_intensity"`
		Pain      *flexFloat `json:"pain_point_clarity"`
		Summary   string     `json:"summary"`
	}
	if err := decode(content, &raw); err != nil {
		return FilterScores{}, err
	}
	if raw.Relevance == nil || raw.Emotion == nil || raw.Pain == nil {
		return FilterScores{}, ErrIncomplete
	}
	return FilterScores{
		Relevance: clamp(float64(*raw.Relevance), 0, 10),
		Emotion:   clamp(float64(*raw.Emotion), 0, 10),
		Pain:      clamp(float64(*raw.Pain), 0, 10),
		Summary:   strings.TrimSpace(raw.Summary),
	}, nil
}

// ParseInsight decodes a deep-analysis reply. Tags are trimmed, deduplicated
// and capped at three; the ROI weight is rounded and clamped to 1-5. Absent
// optional fields stay nil so they never overwrite stored values.
func ParseInsight(content string) (Insight, error) {
	var raw struct {
		PainPoint     string     `json:"pain_point"`
		LeadType      *string    `json:"lead_type"`
		Tags          *[]string  `json:"tags"`
		ROIWeight     *flexFloat `json:"roi_weight"`
		Justification *string    `json:"justification"`
	}
	if err := decode(content, &raw); err != nil {
		return Insight{}, err
	}
	if strings.TrimSpace(raw.PainPoint) == "" {
		return Insight{}, ErrIncomplete
	}

	in := Insight{
		PainPoint:     strings.TrimSpace(raw.PainPoint),
		LeadType:      trimmed(raw.LeadType),
		Justification: trimmed(raw.Justification),
	}
	if raw.ROIWeight != nil {
		roi := int(clamp(math.Round(float64(*raw.ROIWeight)), 1, 5))
		in.ROIWeight = &roi
	}
	if raw.Tags != nil {
		in.Tags = []string{}
		seen := map[string]bool{}
		for _, t := range *raw.Tags {
			t = strings.TrimSpace(t)
			k := strings.ToLower(t)
			if t == "" || seen[k] {
				continue
			}
			seen[k] = true
			in.Tags = append(in.Tags, t)
			if len(in.Tags) == 3 {
				break
			}
		}
	}
	return in, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// ParseCluster decodes an aggregation reply.
func ParseCluster(content string) (ClusterSummary, error) {
	var cs ClusterSummary
	if err := decode(content, &cs); err != nil {
		return ClusterSummary{}, err
	}
	cs.Summary = strings.TrimSpace(cs.Summary)
	if cs.Summary == "" {
		return ClusterSummary{}, ErrIncomplete
	}
	return cs, nil
}

// ParseDiscovery decodes a discovery reply. Both {"suggestions": [...]} and a
// bare array are accepted, and "subreddit" is read as the group name. Entries
// without a name are dropped, as are duplicates.
func ParseDiscovery(content string) ([]Suggestion, error) {
	type entry struct {
		Suggestion
		Subreddit string `json:"subreddit"`
	}
	body := llm.StripCodeFence(content)

	var entries []entry
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &entries); err != nil {
			return nil, fmt.Errorf("decoding reply: %w", err)
		}
	} else {
		var wrapped struct {
			Suggestions []entry `json:"suggestions"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("decoding reply: %w", err)
		}
		entries = wrapped.Suggestions
	}

	var out []Suggestion
	seen := map[string]bool{}
	for _, e := range entries {
		s := e.Suggestion
		if s.Group == "" {
			s.Group = e.Subreddit
		}
		s.Group = strings.TrimPrefix(strings.TrimSpace(s.Group), "r/")
		k := strings.ToLower(s.Group)
		if s.Group == "" || seen[k] {
			continue
		}
		seen[k] = true
		s.PainSignalPct = clamp(s.PainSignalPct, 0, 100)
		s.SolutionRequestsPct = clamp(s.SolutionRequestsPct, 0, 100)
		out = append(out, s)
	}
	return out, nil
}

func decode(content string, v any) error {
	body := llm.StripCodeFence(content)
	if body == "" {
		return fmt.Errorf("empty reply: %w", ErrIncomplete)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	var v float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	*f = flexFloat(v)
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
