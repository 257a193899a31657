package storage

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const lookupChunk = 500

const itemColumns = "id, url, title, body, group_label, parent_id, kind, community, created_at, discovered_at"

// SaveItem records item and its history entry in one transaction. It returns
// false without writing when the identifier was already ingested.
func (s *Store) SaveItem(item Item) (bool, error) {
	if item.Kind == "" {
		item.Kind = KindPrimary
	}
	if item.Community == "" {
		item.Community = CommunityPrimary
	}
	if item.DiscoveredAt.IsZero() {
		item.DiscoveredAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning item transaction: %w", err)
	}

	res, err := tx.Exec(`INSERT OR IGNORE INTO history (id, first_seen) VALUES (?, ?)`,
		item.ID, formatTime(item.DiscoveredAt))
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("recording history for %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if n == 0 {
		tx.Rollback()
		return false, nil
	}

	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.URL, item.Title, item.Body, item.Group, item.ParentID,
		item.Kind, item.Community, formatTime(item.CreatedAt), formatTime(item.DiscoveredAt),
	); err != nil {
		tx.Rollback()
		return false, fmt.Errorf("inserting item %s: %w", item.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing item %s: %w", item.ID, err)
	}
	return true, nil
}

// HasHistory reports whether id was ever ingested.
func (s *Store) HasHistory(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM history WHERE id = ?", id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SeenIDs returns the subset of ids that already have a history record.
func (s *Store) SeenIDs(ids []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	for _, part := range chunk(ids, lookupChunk) {
		rows, err := s.query(sq.Select("id").From("history").Where(sq.Eq{"id": part}))
		if err != nil {
			return nil, fmt.Errorf("looking up history: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			seen[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return seen, nil
}

// GetItem returns the item with id or ErrNotFound.
func (s *Store) GetItem(id string) (Item, error) {
	row := s.db.QueryRow("SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return Item{}, ErrNotFound
	}
	return item, err
}

// GetItems returns the stored items among ids, keyed by id.
func (s *Store) GetItems(ids []string) (map[string]Item, error) {
	out := make(map[string]Item, len(ids))
	for _, part := range chunk(ids, lookupChunk) {
		rows, err := s.query(sq.Select(itemColumns).From("items").Where(sq.Eq{"id": part}))
		if err != nil {
			return nil, fmt.Errorf("loading items: %w", err)
		}
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out[item.ID] = item
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CountItems returns the number of stored items.
func (s *Store) CountItems() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n)
	return n, err
}

// CountHistory returns the number of history records.
func (s *Store) CountHistory() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM history").Scan(&n)
	return n, err
}

// PurgeResult counts rows removed by PurgeOlderThan.
type PurgeResult struct {
	Items   int64
	History int64
}

// PurgeOlderThan deletes items discovered and history first seen before
// cutoff. Score rows of deleted items cascade.
func (s *Store) PurgeOlderThan(cutoff time.Time) (PurgeResult, error) {
	var pr PurgeResult
	c := formatTime(cutoff)

	tx, err := s.db.Begin()
	if err != nil {
		return pr, fmt.Errorf("beginning purge: %w", err)
	}
	res, err := tx.Exec("DELETE FROM items WHERE discovered_at < ?", c)
	if err != nil {
		tx.Rollback()
		return pr, fmt.Errorf("purging items: %w", err)
	}
	pr.Items, _ = res.RowsAffected()

	res, err = tx.Exec("DELETE FROM history WHERE first_seen < ?", c)
	if err != nil {
		tx.Rollback()
		return pr, fmt.Errorf("purging history: %w", err)
	}
	pr.History, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("committing purge: %w", err)
	}
	return pr, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (Item, error) {
	var it Item
	var createdAt, discoveredAt string
	if err := r.Scan(&it.ID, &it.URL, &it.Title, &it.Body, &it.Group, &it.ParentID,
		&it.Kind, &it.Community, &createdAt, &discoveredAt); err != nil {
		return Item{}, err
	}
	var err error
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return Item{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if it.DiscoveredAt, err = parseTime(discoveredAt); err != nil {
		return Item{}, fmt.Errorf("parsing discovered_at: %w", err)
	}
	return it, nil
}
