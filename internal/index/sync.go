package index

import (
	"log/slog"
	"strings"

	"github.com/starford/treeapp/internal/checksum"
	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/parser"
)

// Rebuild brings the index in line with a store snapshot:
//   - new/changed nodes are parsed and upserted
//   - nodes missing from the snapshot are deleted from the index
func Rebuild(db NodeIndex, snap models.Snapshot, logger *slog.Logger) error {
	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	upserted := 0
	for id, n := range snap.Nodes {
		if checksums[id] == rowChecksum(n) {
			continue
		}
		if err := IndexNode(db, n); err != nil {
			logger.Warn("rebuild: index failed", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		upserted++
	}

	var stale []string
	for id := range checksums {
		if _, ok := snap.Nodes[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := db.DeleteNodes(stale...); err != nil {
		logger.Warn("rebuild: delete failed", slog.Int("count", len(stale)), slog.String("error", err.Error()))
	}

	logger.Info("index rebuilt",
		slog.Int("nodes", len(snap.Nodes)),
		slog.Int("upserted", upserted),
		slog.Int("removed", len(stale)),
	)
	return nil
}

// SyncNode re-indexes n unless its stored checksum is already current.
// It reports whether the row was written.
func SyncNode(db NodeIndex, n *models.Node) (bool, error) {
	cs, err := db.GetChecksum(n.ID)
	if err != nil {
		return false, err
	}
	if cs == rowChecksum(n) {
		return false, nil
	}
	if err := IndexNode(db, n); err != nil {
		return false, err
	}
	return true, nil
}

// IndexNode parses the node's markdown and upserts it into the DB.
func IndexNode(db NodeIndex, n *models.Node) error {
	res := parser.Parse(n.Markdown)
	row := NodeRow{
		ID:        n.ID,
		ParentID:  n.ParentID,
		Name:      n.Name,
		Type:      string(n.Type),
		Status:    string(n.Status),
		Title:     res.Title,
		Checksum:  rowChecksum(n),
		Tags:      res.Tags,
		UpdatedAt: n.UpdatedAt,
	}
	return db.UpsertNode(row, searchBody(res.Body, n.Notes, n.Code))
}

func searchBody(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// rowChecksum fingerprints every node field the index stores.
func rowChecksum(n *models.Node) string {
	return checksum.Sum([]byte(strings.Join([]string{
		n.Name, string(n.Type), string(n.Status), n.ParentID, n.Markdown, n.Notes, n.Code,
	}, "\x00")))
}
