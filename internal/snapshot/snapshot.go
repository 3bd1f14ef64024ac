// Package snapshot stores named, timestamped captures of the tree topology
// independently of tree_state, and restores them through the engine's
// URL-positional matcher.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/storage"
	"github.com/zjrosen/tabtree/internal/tree"
)

// SchemaVersion is the version of the stored payload and of exports.
const SchemaVersion = 1

// exportFormat tags exported documents.
const exportFormat = "tabtree-snapshot"

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidExport    = errors.New("invalid snapshot export")
	// ErrUnsupportedVersion is returned for payloads newer than this build.
	ErrUnsupportedVersion = errors.New("unsupported snapshot schema version")
)

// Summary describes a stored snapshot without its topology.
type Summary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	IsAutoSave bool      `json:"isAutoSave"`
}

// Snapshot is a stored capture with its topology.
type Snapshot struct {
	Summary
	Views         []tree.View         `json:"views"`
	TreeStructure []persistence.Entry `json:"treeStructure"`
}

// Topology returns the captured views and entries.
func (s *Snapshot) Topology() persistence.Topology {
	return persistence.Topology{Views: s.Views, Entries: s.TreeStructure}
}

// TabCount is the number of captured tabs.
func (s *Snapshot) TabCount() int { return len(s.TreeStructure) }

type payload struct {
	SchemaVersion int                 `json:"schemaVersion"`
	Views         []tree.View         `json:"views"`
	TreeStructure []persistence.Entry `json:"treeStructure"`
}

// exportDoc is the portable form written by Export and read by Import.
type exportDoc struct {
	Format        string              `json:"format"`
	SchemaVersion int                 `json:"schemaVersion"`
	Name          string              `json:"name"`
	CreatedAt     time.Time           `json:"createdAt"`
	IsAutoSave    bool                `json:"isAutoSave"`
	Views         []tree.View         `json:"views"`
	TreeStructure []persistence.Entry `json:"treeStructure"`
}

func toRecord(s *Snapshot) (*storage.SnapshotRecord, error) {
	data, err := json.Marshal(payload{
		SchemaVersion: SchemaVersion,
		Views:         s.Views,
		TreeStructure: s.TreeStructure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return &storage.SnapshotRecord{
		ID:            s.ID,
		Name:          s.Name,
		CreatedAt:     s.CreatedAt,
		IsAutoSave:    s.IsAutoSave,
		SchemaVersion: SchemaVersion,
		Data:          data,
	}, nil
}

func summaryOf(r *storage.SnapshotRecord) Summary {
	return Summary{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt, IsAutoSave: r.IsAutoSave}
}

func fromRecord(r *storage.SnapshotRecord) (*Snapshot, error) {
	if r.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.SchemaVersion)
	}
	var p payload
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", r.ID, err)
	}
	if err := persistence.ValidateEntries(p.TreeStructure); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", r.ID, err)
	}
	return &Snapshot{Summary: summaryOf(r), Views: p.Views, TreeStructure: p.TreeStructure}, nil
}

func encodeExport(s *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(exportDoc{
		Format:        exportFormat,
		SchemaVersion: SchemaVersion,
		Name:          s.Name,
		CreatedAt:     s.CreatedAt,
		IsAutoSave:    s.IsAutoSave,
		Views:         s.Views,
		TreeStructure: s.TreeStructure,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return data, nil
}

func decodeExport(data []byte) (*exportDoc, error) {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	switch {
	case doc.Format != exportFormat:
		return nil, fmt.Errorf("%w: format %q", ErrInvalidExport, doc.Format)
	case doc.SchemaVersion < 1 || doc.SchemaVersion > SchemaVersion:
		return nil, fmt.Errorf("%w: schema version %d", ErrInvalidExport, doc.SchemaVersion)
	case doc.Name == "":
		return nil, fmt.Errorf("%w: missing name", ErrInvalidExport)
	}
	if err := persistence.ValidateEntries(doc.TreeStructure); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	views := make(map[tree.ViewID]bool, len(doc.Views))
	for _, v := range doc.Views {
		if v.ID == "" {
			return nil, fmt.Errorf("%w: view without id", ErrInvalidExport)
		}
		views[v.ID] = true
	}
	for i, e := range doc.TreeStructure {
		if e.URL == "" {
			return nil, fmt.Errorf("%w: entry %d has no url", ErrInvalidExport, i)
		}
		if e.ViewID != "" && !views[e.ViewID] {
			return nil, fmt.Errorf("%w: entry %d references unknown view %s", ErrInvalidExport, i, e.ViewID)
		}
	}
	return &doc, nil
}
