package index

import (
	"fmt"
	"time"
)

// ItemRow is one indexed item header.
type ItemRow struct {
	ID          string
	DocPath     string
	Examiner    string
	Kind        string
	Status      string
	Title       string
	ContentHash string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// ReplaceDoc swaps a document's rows and records its checksum within one
// transaction. A document is the unit of sync: its items are always replaced
// together so the index never holds a half-applied document.
func (db *DB) ReplaceDoc(path, checksum string, rows []ItemRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM items WHERE doc_path = ?`, path); err != nil {
		return fmt.Errorf("index: clear doc rows: %w", err)
	}
	if len(rows) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO items
				(id, doc_path, examiner, kind, status, title, content_hash, created_at, modified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("index: prepare item insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.ID, path, r.Examiner, r.Kind, r.Status, r.Title,
				r.ContentHash, r.CreatedAt, r.ModifiedAt); err != nil {
				return fmt.Errorf("index: insert item: %w", err)
			}
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO docs (path, checksum) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET checksum = excluded.checksum
	`, path, checksum); err != nil {
		return fmt.Errorf("index: upsert doc checksum: %w", err)
	}
	return tx.Commit()
}

// DeleteDoc removes a document's rows and its checksum record.
func (db *DB) DeleteDoc(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM items WHERE doc_path = ?`, path)
	_, _ = tx.Exec(`DELETE FROM docs WHERE path = ?`, path)

	return tx.Commit()
}

// DocChecksums returns every indexed document path with its checksum.
func (db *DB) DocChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM docs`)
	if err != nil {
		return nil, fmt.Errorf("index: doc checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// ListFilter narrows ListItems.
type ListFilter struct {
	Examiner string
	Kind     string
	Status   string
	Limit    int
	Offset   int
}

// ListItems returns matching item headers, newest first, plus the total
// match count before limit/offset.
func (db *DB) ListItems(f ListFilter) ([]ItemRow, int, error) {
	where := ` WHERE 1=1`
	var args []any
	if f.Examiner != "" {
		where += ` AND examiner = ?`
		args = append(args, f.Examiner)
	}
	if f.Kind != "" {
		where += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count items: %w", err)
	}

	query := `
		SELECT id, doc_path, examiner, kind, status, title, content_hash, created_at, modified_at
		FROM items` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list items: %w", err)
	}
	defer rows.Close()

	var out []ItemRow
	for rows.Next() {
		var r ItemRow
		var created, modified *time.Time
		if err := rows.Scan(&r.ID, &r.DocPath, &r.Examiner, &r.Kind, &r.Status, &r.Title,
			&r.ContentHash, &created, &modified); err != nil {
			return nil, 0, err
		}
		if created != nil {
			r.CreatedAt = *created
		}
		if modified != nil {
			r.ModifiedAt = *modified
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// GetItem returns one item header by id, or nil when absent.
func (db *DB) GetItem(id string) (*ItemRow, error) {
	var r ItemRow
	var created, modified *time.Time
	err := db.conn.QueryRow(`
		SELECT id, doc_path, examiner, kind, status, title, content_hash, created_at, modified_at
		FROM items WHERE id = ?
	`, id).Scan(&r.ID, &r.DocPath, &r.Examiner, &r.Kind, &r.Status, &r.Title,
		&r.ContentHash, &created, &modified)
	if err != nil {
		return nil, nil // not found is fine
	}
	if created != nil {
		r.CreatedAt = *created
	}
	if modified != nil {
		r.ModifiedAt = *modified
	}
	return &r, nil
}

// CountByStatus returns the item count per lifecycle status.
func (db *DB) CountByStatus() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("index: count by status: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
