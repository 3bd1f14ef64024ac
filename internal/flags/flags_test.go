package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_AppliesDefaults(t *testing.T) {
	r := New(nil)

	require.False(t, r.Enabled(FlagSnapshotAutoSave))
	require.False(t, r.Enabled(FlagHostSimulation))
	require.True(t, r.Enabled(FlagUnreadTracking))
}

func TestRegistry_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		registry *Registry
		flag     string
		expected bool
	}{
		{
			name:     "configured value overrides default",
			registry: New(map[string]bool{FlagUnreadTracking: false}),
			flag:     FlagUnreadTracking,
			expected: false,
		},
		{
			name:     "configured on",
			registry: New(map[string]bool{FlagSnapshotAutoSave: true}),
			flag:     FlagSnapshotAutoSave,
			expected: true,
		},
		{
			name:     "unknown flag is off",
			registry: New(map[string]bool{"snapshot-autosav": true}),
			flag:     "unknown-flag",
			expected: false,
		},
		{
			name:     "nil registry is off",
			registry: nil,
			flag:     FlagUnreadTracking,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.registry.Enabled(tt.flag))
		})
	}
}

func TestRegistry_All(t *testing.T) {
	r := New(map[string]bool{FlagHostSimulation: true, "extra": true})

	all := r.All()
	require.Equal(t, map[string]bool{
		FlagSnapshotAutoSave: false,
		FlagHostSimulation:   true,
		FlagUnreadTracking:   true,
		"extra":              true,
	}, all)

	all[FlagHostSimulation] = false
	require.True(t, r.Enabled(FlagHostSimulation), "All must return a copy")

	var nilRegistry *Registry
	require.Empty(t, nilRegistry.All())
}
