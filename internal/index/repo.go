package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NodeRow represents a row in the nodes table.
type NodeRow struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Title     string    `json:"title,omitempty"`
	Checksum  string    `json:"-"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// TagCount is a tag and the number of nodes carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Filter selects nodes by exact attribute values. Empty fields match anything.
type Filter struct {
	Status string
	Type   string
	Tag    string
	Limit  int
}

// UpsertNode inserts or replaces a node, its tags and its FTS entry within a transaction.
func (db *DB) UpsertNode(n NodeRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if n.Tags == nil {
		n.Tags = []string{}
	}
	tagsJSON, _ := json.Marshal(n.Tags)

	_, err = tx.Exec(`
		INSERT INTO nodes (id, parent_id, name, type, status, title, checksum, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id  = excluded.parent_id,
			name       = excluded.name,
			type       = excluded.type,
			status     = excluded.status,
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, n.ID, n.ParentID, n.Name, n.Type, n.Status, n.Title, n.Checksum, string(tagsJSON), body, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert node: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, n.ID, n.Name, n.Title, body, n.Tags); err != nil {
		return err
	}

	_, _ = tx.Exec(`DELETE FROM node_tags WHERE node_id = ?`, n.ID)
	if len(n.Tags) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO node_tags (node_id, tag) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare tag insert: %w", err)
		}
		defer stmt.Close()
		for _, tag := range n.Tags {
			if _, err := stmt.Exec(n.ID, tag); err != nil {
				return fmt.Errorf("index: insert tag: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteNodes removes nodes, their tags and FTS entries in one transaction.
func (db *DB) DeleteNodes(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		if err := ftsDelete(tx, id); err != nil {
			return fmt.Errorf("index: delete fts: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM node_tags WHERE node_id = ?`, id); err != nil {
			return fmt.Errorf("index: delete tags: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM nodes WHERE id = ?`, id); err != nil {
			return fmt.Errorf("index: delete node: %w", err)
		}
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a node, or "" if it is not indexed.
func (db *DB) GetChecksum(id string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM nodes WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns the checksum of every indexed node keyed by id.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

// Filter returns nodes matching every non-empty field of f, ordered by name.
func (db *DB) Filter(f Filter) ([]NodeRow, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "n.status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "n.type = ?")
		args = append(args, f.Type)
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM node_tags t WHERE t.node_id = n.id AND t.tag = ?)")
		args = append(args, strings.ToLower(f.Tag))
	}
	q := `SELECT n.id, n.parent_id, n.name, n.type, n.status, n.title, n.checksum, n.tags, n.updated_at FROM nodes n`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY n.name, n.id LIMIT ?"
	args = append(args, f.Limit)

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: filter: %w", err)
	}
	defer rows.Close()

	out := []NodeRow{}
	for rows.Next() {
		var (
			r    NodeRow
			tags string
		)
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Name, &r.Type, &r.Status, &r.Title, &r.Checksum, &tags, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			r.Tags = []string{}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TopTags returns the most used tags, most frequent first.
func (db *DB) TopTags(limit int) ([]TagCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.Query(`
		SELECT tag, count(*) AS c
		FROM node_tags
		GROUP BY tag
		ORDER BY c DESC, tag
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("index: top tags: %w", err)
	}
	defer rows.Close()

	out := []TagCount{}
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	out := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Name, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
