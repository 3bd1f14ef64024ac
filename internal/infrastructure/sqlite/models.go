package sqlite

import (
	"time"

	"github.com/zjrosen/tabtree/internal/storage"
)

// SnapshotModel is the snapshots table row. Times are Unix milliseconds.
type SnapshotModel struct {
	ID            string
	Name          string
	CreatedAt     int64
	IsAutoSave    bool
	SchemaVersion int
	Data          []byte
}

func toSnapshotModel(s *storage.SnapshotRecord) *SnapshotModel {
	return &SnapshotModel{
		ID:            s.ID,
		Name:          s.Name,
		CreatedAt:     s.CreatedAt.UnixMilli(),
		IsAutoSave:    s.IsAutoSave,
		SchemaVersion: s.SchemaVersion,
		Data:          s.Data,
	}
}

func (m *SnapshotModel) toDomain() *storage.SnapshotRecord {
	return &storage.SnapshotRecord{
		ID:            m.ID,
		Name:          m.Name,
		CreatedAt:     time.UnixMilli(m.CreatedAt).UTC(),
		IsAutoSave:    m.IsAutoSave,
		SchemaVersion: m.SchemaVersion,
		Data:          m.Data,
	}
}
