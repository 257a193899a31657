package storage

import (
	"fmt"
	"time"
)

// ReplaceExploratoryGroups swaps the stored exploratory set for groups.
func (s *Store) ReplaceExploratoryGroups(groups []ExploratoryGroup) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning group transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM exploratory_groups"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing exploratory groups: %w", err)
	}
	for _, g := range groups {
		at := g.DiscoveredAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO exploratory_groups (name, reason, pain_signal_pct, solution_requests_pct, engagement_level, discovered_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			g.Name, g.Reason, g.PainSignalPct, g.SolutionRequestsPct, g.EngagementLevel, formatTime(at),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting exploratory group %s: %w", g.Name, err)
		}
	}
	return tx.Commit()
}

// ListExploratoryGroups returns stored exploratory groups by name.
func (s *Store) ListExploratoryGroups() ([]ExploratoryGroup, error) {
	rows, err := s.db.Query(`
		SELECT name, reason, pain_signal_pct, solution_requests_pct, engagement_level, discovered_at
		FROM exploratory_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExploratoryGroup
	for rows.Next() {
		var g ExploratoryGroup
		var at string
		if err := rows.Scan(&g.Name, &g.Reason, &g.PainSignalPct, &g.SolutionRequestsPct, &g.EngagementLevel, &at); err != nil {
			return nil, err
		}
		if g.DiscoveredAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parsing discovered_at: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// LastDiscoveryAt returns when exploratory groups were last replaced, or the
// zero time if never.
func (s *Store) LastDiscoveryAt() (time.Time, error) {
	var at string
	if err := s.db.QueryRow("SELECT COALESCE(MAX(discovered_at), '') FROM exploratory_groups").Scan(&at); err != nil {
		return time.Time{}, err
	}
	return parseTime(at)
}
