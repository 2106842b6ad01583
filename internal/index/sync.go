package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/checksum"
	"github.com/halvard/caseward/internal/models"
)

// Sync walks the case's examiner namespaces and brings the index up to date:
//   - new/changed documents are parsed and their rows replaced
//   - documents removed from disk are deleted from the index
//
// Documents whose checksum already matches are skipped without parsing.
func Sync(db *DB, store *casestore.Store, logger *slog.Logger) error {
	examiners, err := store.Examiners()
	if err != nil {
		return err
	}
	indexed, err := db.DocChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{})
	for _, ex := range examiners {
		for _, file := range []string{"findings.json", "timeline.json"} {
			rel := filepath.Join("examiners", ex, file)
			data, err := os.ReadFile(filepath.Join(store.Root(), rel))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				logger.Warn("sync: read failed", slog.String("path", rel), slog.String("error", err.Error()))
				continue
			}
			disk[rel] = struct{}{}

			cs := checksum.Sum(data)
			if indexed[rel] == cs {
				continue
			}
			if err := indexDoc(db, rel, cs, data); err != nil {
				logger.Warn("sync: index failed", slog.String("path", rel), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: indexed", slog.String("path", rel))
			}
		}
	}

	// Remove stale entries.
	for p := range indexed {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteDoc(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}
	return nil
}

// indexDoc parses one document and replaces its rows.
func indexDoc(db *DB, rel, cs string, data []byte) error {
	var rows []ItemRow
	switch {
	case strings.HasSuffix(rel, "findings.json"):
		var items []models.Finding
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("index: parse %s: %w", rel, err)
		}
		for i := range items {
			rows = append(rows, rowFor(&items[i], items[i].Title))
		}
	case strings.HasSuffix(rel, "timeline.json"):
		var items []models.TimelineEvent
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("index: parse %s: %w", rel, err)
		}
		for i := range items {
			rows = append(rows, rowFor(&items[i], items[i].Description))
		}
	default:
		return nil
	}
	return db.ReplaceDoc(rel, cs, rows)
}

func rowFor(item models.Item, title string) ItemRow {
	m := item.Meta()
	return ItemRow{
		ID:          m.ID,
		Examiner:    m.Examiner,
		Kind:        string(item.Kind()),
		Status:      string(m.Status),
		Title:       title,
		ContentHash: m.ContentHash,
		CreatedAt:   m.CreatedAt,
		ModifiedAt:  m.ModifiedAt,
	}
}
