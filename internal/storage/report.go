package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// PostView joins an item with its scores for reporting.
type PostView struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	Group          string    `json:"group"`
	Kind           string    `json:"kind"`
	Community      string    `json:"community"`
	Relevance      float64   `json:"relevance"`
	Emotion        float64   `json:"emotion"`
	Pain           float64   `json:"pain"`
	Composite      float64   `json:"composite"`
	Label          string    `json:"label,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	ROIWeight      int       `json:"roi_weight"`
	PainPoint      string    `json:"pain_point,omitempty"`
	ClusterSummary string    `json:"cluster_summary,omitempty"`
	Processed      bool      `json:"processed"`
	CreatedAt      time.Time `json:"created_at"`
}

// Order columns accepted by TopPosts.
var orderColumns = map[string]string{
	"roi":       "COALESCE(s.roi_weight, -1)",
	"relevance": "COALESCE(s.relevance, -1)",
	"emotion":   "COALESCE(s.emotion, -1)",
	"pain":      "COALESCE(s.pain, -1)",
	"composite": "COALESCE(s.composite, -1)",
	"processed": "COALESCE(s.processed_at, '')",
}

// OrderKeys lists the values accepted in TopQuery.Order.
func OrderKeys() []string {
	return []string{"roi", "relevance", "emotion", "pain", "composite", "processed"}
}

// TopQuery selects scored posts for the top report.
type TopQuery struct {
	Since         time.Time // zero means no lower bound
	Limit         int
	Order         string // one of OrderKeys; empty means "roi"
	ProcessedOnly bool
}

func postSelect() sq.SelectBuilder {
	return sq.Select(
		"i.id", "i.title", "i.url", "i.group_label", "i.kind", "i.community",
		"COALESCE(s.relevance, 0)", "COALESCE(s.emotion, 0)", "COALESCE(s.pain, 0)", "COALESCE(s.composite, 0)",
		"COALESCE(s.label, '')", "COALESCE(s.tags, '')", "COALESCE(s.roi_weight, 0)",
		"COALESCE(s.pain_point, '')", "COALESCE(s.cluster_summary, '')", "s.processed", "i.created_at",
	).From("items i").Join("scores s ON s.item_id = i.id")
}

// TopPosts returns scored posts ordered by the requested score, highest first.
func (s *Store) TopPosts(q TopQuery) ([]PostView, error) {
	order := q.Order
	if order == "" {
		order = "roi"
	}
	col, ok := orderColumns[order]
	if !ok {
		return nil, fmt.Errorf("unknown order %q", order)
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}

	b := postSelect().OrderBy(col+" DESC", "i.id").Limit(uint64(q.Limit))
	if !q.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"i.discovered_at": formatTime(q.Since)})
	}
	if q.ProcessedOnly {
		b = b.Where(sq.Eq{"s.processed": 1})
	}
	return s.collectPosts(b)
}

// PostsByTag returns deep-processed posts carrying tag (case-insensitive).
func (s *Store) PostsByTag(tag string, limit int) ([]PostView, error) {
	if limit <= 0 {
		limit = 20
	}
	b := postSelect().
		Where("EXISTS (SELECT 1 FROM json_each(s.tags) WHERE lower(json_each.value) = lower(?))", tag).
		OrderBy("COALESCE(s.roi_weight, -1) DESC", "i.id").
		Limit(uint64(limit))
	return s.collectPosts(b)
}

func (s *Store) collectPosts(b sq.SelectBuilder) ([]PostView, error) {
	rows, err := s.query(b)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w", err)
	}
	defer rows.Close()

	var out []PostView
	for rows.Next() {
		var p PostView
		var tags, createdAt string
		if err := rows.Scan(&p.ID, &p.Title, &p.URL, &p.Group, &p.Kind, &p.Community,
			&p.Relevance, &p.Emotion, &p.Pain, &p.Composite, &p.Label, &tags, &p.ROIWeight,
			&p.PainPoint, &p.ClusterSummary, &p.Processed, &createdAt); err != nil {
			return nil, err
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
				return nil, fmt.Errorf("decoding tags for %s: %w", p.ID, err)
			}
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count is a labelled row count.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Stats aggregates the store for the stats report.
type Stats struct {
	Items        int     `json:"items"`
	History      int     `json:"history"`
	Scored       int     `json:"scored"`
	Processed    int     `json:"processed"`
	ByCommunity  []Count `json:"by_community"`
	ByGroup      []Count `json:"by_group"`
	ByLabel      []Count `json:"by_label"`
	RecentDays   []Count `json:"recent_days"`
	AvgRelevance float64 `json:"avg_relevance"`
	AvgEmotion   float64 `json:"avg_emotion"`
	AvgPain      float64 `json:"avg_pain"`
}

// Stats computes counts by community, group and label, daily discovery
// counts for the last 7 days, and average filter scores.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	var err error

	if st.Items, err = s.CountItems(); err != nil {
		return st, err
	}
	if st.History, err = s.CountHistory(); err != nil {
		return st, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(processed), 0) FROM scores`).Scan(&st.Scored, &st.Processed); err != nil {
		return st, fmt.Errorf("counting scores: %w", err)
	}

	var rel, emo, pain sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(relevance), AVG(emotion), AVG(pain) FROM scores`).Scan(&rel, &emo, &pain); err != nil {
		return st, fmt.Errorf("averaging scores: %w", err)
	}
	st.AvgRelevance, st.AvgEmotion, st.AvgPain = rel.Float64, emo.Float64, pain.Float64

	if st.ByCommunity, err = s.counts(`SELECT community, COUNT(*) FROM items GROUP BY community ORDER BY COUNT(*) DESC, community`); err != nil {
		return st, err
	}
	if st.ByGroup, err = s.counts(`SELECT group_label, COUNT(*) FROM items GROUP BY group_label ORDER BY COUNT(*) DESC, group_label`); err != nil {
		return st, err
	}
	if st.ByLabel, err = s.counts(`SELECT label, COUNT(*) FROM scores WHERE label IS NOT NULL AND label != '' GROUP BY label ORDER BY COUNT(*) DESC, label`); err != nil {
		return st, err
	}
	since := formatTime(time.Now().AddDate(0, 0, -7))
	if st.RecentDays, err = s.counts(`SELECT substr(discovered_at, 1, 10) AS day, COUNT(*) FROM items WHERE discovered_at >= ? GROUP BY day ORDER BY day DESC`, since); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) counts(query string, args ...any) ([]Count, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
