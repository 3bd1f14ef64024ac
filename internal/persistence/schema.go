// Package persistence owns the durable tree_state record: its versioned
// schema, the tab-id independent treeStructure projection, the URL
// positional matcher used to replay it, and the debounced writer.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/tree"
)

// CurrentSchemaVersion is written on every save. Version 0 is the legacy
// shape without schemaVersion or per-entry viewId.
const CurrentSchemaVersion = 1

var (
	// ErrUnsupportedVersion is returned for records written by a newer build.
	ErrUnsupportedVersion = errors.New("unsupported tree_state schema version")
	// ErrMalformedRecord is returned when the blob does not decode into a
	// consistent record.
	ErrMalformedRecord = errors.New("malformed tree_state record")
)

// Entry is one element of treeStructure. ParentIndex points at an earlier
// entry of the same array; nil marks a root. Index is the position among
// siblings.
type Entry struct {
	URL         string      `json:"url"`
	Title       string      `json:"title,omitempty"`
	ParentIndex *int        `json:"parentIndex"`
	Index       int         `json:"index"`
	ViewID      tree.ViewID `json:"viewId"`
	IsExpanded  bool        `json:"isExpanded"`
}

// Record is the tree_state blob.
type Record struct {
	SchemaVersion int                        `json:"schemaVersion"`
	SavedAt       time.Time                  `json:"savedAt"`
	Views         []tree.View                `json:"views"`
	Nodes         map[tree.NodeID]tree.Node  `json:"nodes"`
	TabToNode     map[host.TabID]tree.TabRef `json:"tabToNode"`
	TreeStructure []Entry                    `json:"treeStructure"`
}

// Topology returns the tab-id independent part of the record.
func (r *Record) Topology() Topology {
	return Topology{Views: r.Views, Entries: r.TreeStructure}
}

// Encode marshals a record, stamping the current schema version.
func Encode(r *Record) ([]byte, error) {
	r.SchemaVersion = CurrentSchemaVersion
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tree_state: %w", err)
	}
	return data, nil
}

type versionProbe struct {
	SchemaVersion *int `json:"schemaVersion"`
}

// Decode parses a stored blob, upgrading older versions in place.
func Decode(data []byte) (*Record, error) {
	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	version := 0
	if probe.SchemaVersion != nil {
		version = *probe.SchemaVersion
	}
	if version > CurrentSchemaVersion || version < 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if version == 0 {
		migrateV0(&r)
	}
	if err := ValidateEntries(r.TreeStructure); err != nil {
		return nil, err
	}
	r.SchemaVersion = CurrentSchemaVersion
	return &r, nil
}

// migrateV0 assigns entries without a view to the first view.
func migrateV0(r *Record) {
	if len(r.Views) == 0 {
		return
	}
	for i := range r.TreeStructure {
		if r.TreeStructure[i].ViewID == "" {
			r.TreeStructure[i].ViewID = r.Views[0].ID
		}
	}
}

// ValidateEntries checks that every parentIndex points at an earlier entry.
func ValidateEntries(entries []Entry) error {
	for i, e := range entries {
		if e.ParentIndex == nil {
			continue
		}
		if p := *e.ParentIndex; p < 0 || p >= i {
			return fmt.Errorf("%w: entry %d has parentIndex %d", ErrMalformedRecord, i, p)
		}
	}
	return nil
}
