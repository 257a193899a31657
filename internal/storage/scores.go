package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const scoreColumns = "item_id, relevance, emotion, pain, summary, composite, label, tags, roi_weight, " +
	"pain_point, justification, cluster_key, cluster_summary, processed, processed_at, updated_at"

// UpdateScores applies the non-nil fields of u to the score row of itemID,
// creating the row if needed. The item must exist.
func (s *Store) UpdateScores(itemID string, u ScoreUpdate) error {
	now := formatTime(time.Now())

	if _, err := s.db.Exec(`INSERT OR IGNORE INTO scores (item_id, updated_at) VALUES (?, ?)`, itemID, now); err != nil {
		return fmt.Errorf("creating score row for %s: %w", itemID, err)
	}

	set := map[string]any{}
	if u.Relevance != nil {
		set["relevance"] = *u.Relevance
	}
	if u.Emotion != nil {
		set["emotion"] = *u.Emotion
	}
	if u.Pain != nil {
		set["pain"] = *u.Pain
	}
	if u.Summary != nil {
		set["summary"] = *u.Summary
	}
	if u.Composite != nil {
		set["composite"] = *u.Composite
	}
	if u.Label != nil {
		set["label"] = *u.Label
	}
	if u.Tags != nil {
		b, err := json.Marshal(u.Tags)
		if err != nil {
			return fmt.Errorf("encoding tags: %w", err)
		}
		set["tags"] = string(b)
	}
	if u.ROIWeight != nil {
		set["roi_weight"] = *u.ROIWeight
	}
	if u.PainPoint != nil {
		set["pain_point"] = *u.PainPoint
	}
	if u.Justification != nil {
		set["justification"] = *u.Justification
	}
	if u.ClusterKey != nil {
		set["cluster_key"] = *u.ClusterKey
	}
	if u.ClusterSummary != nil {
		set["cluster_summary"] = *u.ClusterSummary
	}
	if u.Processed != nil {
		set["processed"] = *u.Processed
		if *u.Processed {
			set["processed_at"] = now
		}
	}
	if len(set) == 0 {
		return nil
	}
	set["updated_at"] = now

	res, err := s.exec(sq.Update("scores").SetMap(set).Where(sq.Eq{"item_id": itemID}))
	if err != nil {
		return fmt.Errorf("updating scores for %s: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetScore returns the score row of itemID or ErrNotFound.
func (s *Store) GetScore(itemID string) (ScoreRecord, error) {
	row := s.db.QueryRow("SELECT "+scoreColumns+" FROM scores WHERE item_id = ?", itemID)
	rec, err := scanScore(row)
	if err == sql.ErrNoRows {
		return ScoreRecord{}, ErrNotFound
	}
	return rec, err
}

// GetScores returns score rows for ids, keyed by item id. With
// unprocessedOnly, rows already deep-processed are left out.
func (s *Store) GetScores(ids []string, unprocessedOnly bool) (map[string]ScoreRecord, error) {
	out := make(map[string]ScoreRecord, len(ids))
	for _, part := range chunk(ids, lookupChunk) {
		q := sq.Select(scoreColumns).From("scores").Where(sq.Eq{"item_id": part})
		if unprocessedOnly {
			q = q.Where(sq.Eq{"processed": 0})
		}
		if err := s.collectScores(q, func(r ScoreRecord) { out[r.ItemID] = r }); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListFilterResults returns every score row carrying all three filter
// scores. With unprocessedOnly, deep-processed rows are left out.
func (s *Store) ListFilterResults(unprocessedOnly bool) ([]ScoreRecord, error) {
	q := sq.Select(scoreColumns).From("scores").
		Where(sq.NotEq{"relevance": nil, "emotion": nil, "pain": nil}).
		OrderBy("item_id")
	if unprocessedOnly {
		q = q.Where(sq.Eq{"processed": 0})
	}
	var out []ScoreRecord
	err := s.collectScores(q, func(r ScoreRecord) { out = append(out, r) })
	return out, err
}

// RecentPainPoints returns up to limit non-empty pain points, newest first.
func (s *Store) RecentPainPoints(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT pain_point FROM scores
		WHERE processed = 1 AND pain_point IS NOT NULL AND pain_point != ''
		ORDER BY processed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) collectScores(q sq.SelectBuilder, fn func(ScoreRecord)) error {
	rows, err := s.query(q)
	if err != nil {
		return fmt.Errorf("loading scores: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanScore(rows)
		if err != nil {
			return err
		}
		fn(rec)
	}
	return rows.Err()
}

func scanScore(r rowScanner) (ScoreRecord, error) {
	var rec ScoreRecord
	var relevance, emotion, pain, composite sql.NullFloat64
	var summary, label, tags, painPoint, justification sql.NullString
	var clusterKey, clusterSummary, processedAt sql.NullString
	var roi sql.NullInt64
	var updatedAt string
	if err := r.Scan(&rec.ItemID, &relevance, &emotion, &pain, &summary, &composite, &label, &tags, &roi,
		&painPoint, &justification, &clusterKey, &clusterSummary, &rec.Processed, &processedAt, &updatedAt); err != nil {
		return ScoreRecord{}, err
	}

	rec.Relevance = nullFloat(relevance)
	rec.Emotion = nullFloat(emotion)
	rec.Pain = nullFloat(pain)
	rec.Composite = nullFloat(composite)
	if roi.Valid {
		rec.ROIWeight = Int(int(roi.Int64))
	}
	rec.Summary = summary.String
	rec.Label = label.String
	rec.PainPoint = painPoint.String
	rec.Justification = justification.String
	rec.ClusterKey = clusterKey.String
	rec.ClusterSummary = clusterSummary.String

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &rec.Tags); err != nil {
			return ScoreRecord{}, fmt.Errorf("decoding tags for %s: %w", rec.ItemID, err)
		}
	}

	var err error
	if rec.ProcessedAt, err = parseTime(processedAt.String); err != nil {
		return ScoreRecord{}, fmt.Errorf("parsing processed_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return ScoreRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return rec, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return Float(v.Float64)
}
