package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryKV(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	_, err := kv.Get(ctx, KeyTreeState)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Put(ctx, KeyTreeState, []byte(`{"schemaVersion":1}`)))
	got, err := kv.Get(ctx, KeyTreeState)
	require.NoError(t, err)
	require.JSONEq(t, `{"schemaVersion":1}`, string(got))

	// returned slices are copies
	got[0] = 'x'
	again, _ := kv.Get(ctx, KeyTreeState)
	require.Equal(t, byte('{'), again[0])

	require.NoError(t, kv.Delete(ctx, KeyTreeState))
	_, err = kv.Get(ctx, KeyTreeState)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySnapshots_ListNewestFirstWithoutData(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySnapshots()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.Save(ctx, &SnapshotRecord{
			ID: id, Name: id, CreatedAt: base.Add(time.Duration(i) * time.Hour), SchemaVersion: 1, Data: []byte("{}"),
		}))
	}

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "new", list[0].ID)
	require.Equal(t, "old", list[2].ID)
	require.Nil(t, list[0].Data)

	full, err := repo.Get(ctx, "mid")
	require.NoError(t, err)
	require.Equal(t, []byte("{}"), full.Data)
}

func TestMemorySnapshots_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySnapshots()

	_, err := repo.Get(ctx, "missing")
	var nf *SnapshotNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "missing", nf.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, repo.Delete(ctx, "missing"), ErrNotFound)
}
