package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveViews_CreatesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	require.NoError(t, SaveViews(path, []ViewConfig{{Name: "Work", Color: "#FF0000"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Work")
	assert.Contains(t, string(data), `color: "#FF0000"`)
}

func TestSaveViews_PreservesOtherSectionsAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	initial := `# my settings
server:
  addr: localhost:1234 # custom port
views:
  - name: Old
flags:
  unread-tracking: false
`
	require.NoError(t, os.WriteFile(path, []byte(initial), 0o644))

	require.NoError(t, SaveViews(path, []ViewConfig{{Name: "New", Color: "#00ff00"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# my settings")
	assert.Contains(t, content, "# custom port")
	assert.Contains(t, content, "unread-tracking: false")
	assert.Contains(t, content, "name: New")
	assert.NotContains(t, content, "name: Old")
}

func TestSaveViews_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	views := []ViewConfig{{Name: "Work", Color: "#123456"}, {Name: "Reading"}}
	require.NoError(t, SaveViews(path, views))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, views, cfg.Views)
	assert.Equal(t, Defaults().Engine, cfg.Engine, "other sections must survive")
}

func TestSaveViews_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.Error(t, SaveViews(path, []ViewConfig{{Name: ""}}))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing is written for invalid views")
}

func TestSaveViews_NonMappingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o644))
	require.Error(t, SaveViews(path, DefaultViews()))
}

func TestAddView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	existing := DefaultViews()

	require.NoError(t, AddView(path, ViewConfig{Name: "Work"}, existing))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Default", "Work"}, viewNames(cfg.Views))
	assert.Len(t, existing, 1, "caller's slice is not modified")

	err = AddView(path, ViewConfig{Name: "Work"}, cfg.Views)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestDeleteView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	views := []ViewConfig{{Name: "A"}, {Name: "B"}}

	require.NoError(t, DeleteView(path, "A", views))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, viewNames(cfg.Views))

	require.Error(t, DeleteView(path, "B", cfg.Views), "last view")
	require.Error(t, DeleteView(path, "Z", views), "unknown view")
}

func viewNames(views []ViewConfig) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.Name)
	}
	return out
}
