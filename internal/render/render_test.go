package render

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/tree"
)

func intp(i int) *int { return &i }

func sample() persistence.Topology {
	return persistence.Topology{
		Views: []tree.View{
			{ID: "v1", Name: "Work", Color: "#ff0000"},
			{ID: "v2", Name: "Play"},
		},
		Entries: []persistence.Entry{
			{URL: "https://a.example", Title: "A", ViewID: "v1", IsExpanded: true},
			{URL: "https://b.example", Title: "B", ViewID: "v1", ParentIndex: intp(0)},
			{URL: "https://c.example", ViewID: "v1", ParentIndex: intp(1)},
			{URL: "https://d.example", Title: "D", ViewID: "v1", IsExpanded: false},
			{URL: "https://e.example", Title: "E", ViewID: "v1", ParentIndex: intp(3), Index: 0},
			{URL: "https://f.example", Title: "F", ViewID: "v2"},
		},
	}
}

func TestSections_DepthsAndGrouping(t *testing.T) {
	sections := Sections(sample())
	require.Len(t, sections, 2)

	work := sections[0]
	assert.Equal(t, "Work", work.View.Name)
	depths := make([]int, 0, len(work.Lines))
	for _, l := range work.Lines {
		depths = append(depths, l.Depth)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1}, depths)
	assert.True(t, work.Lines[0].HasChildren)
	assert.False(t, work.Lines[2].HasChildren)

	assert.Len(t, sections[1].Lines, 1)
}

func TestSections_UnknownViewGetsTrailingSection(t *testing.T) {
	topo := persistence.Topology{
		Views:   []tree.View{{ID: "v1", Name: "Work"}},
		Entries: []persistence.Entry{{URL: "/x", ViewID: "gone"}},
	}
	sections := Sections(topo)
	require.Len(t, sections, 2)
	assert.Equal(t, "gone", sections[1].View.Name)
	assert.Empty(t, sections[0].Lines)
}

func TestPlain(t *testing.T) {
	want := `# Work (5)
v A <https://a.example>
  > B <https://b.example>
    - https://c.example
> D <https://d.example>
  - E <https://e.example>
# Play (1)
- F <https://f.example>
`
	assert.Equal(t, want, Plain(sample()))
}

func TestStyled_TruncatesToWidth(t *testing.T) {
	topo := persistence.Topology{
		Views: []tree.View{{ID: "v1", Name: "Work", Color: "#00ff00"}},
		Entries: []persistence.Entry{
			{URL: "/long", Title: "A very long tab title that will not fit", ViewID: "v1"},
			{URL: "/wide", Title: "日本語のタイトルです", ViewID: "v1"},
		},
	}
	out := Styled(topo, Options{Width: 16, ShowURL: true})
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		assert.LessOrEqual(t, ansi.StringWidth(line), 16, "line %q", ansi.Strip(line))
	}
	plain := ansi.Strip(out)
	assert.Contains(t, plain, "Work (2)")
	assert.Contains(t, plain, "…")
}

func TestStyled_AlignsURLColumn(t *testing.T) {
	topo := persistence.Topology{
		Views: []tree.View{{ID: "v1", Name: "Work"}},
		Entries: []persistence.Entry{
			{URL: "/a", Title: "Short", ViewID: "v1"},
			{URL: "/b", Title: "Much longer title", ViewID: "v1"},
		},
	}
	lines := strings.Split(ansi.Strip(Styled(topo, Options{ShowURL: true})), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, strings.Index(lines[1], "/a"), strings.Index(lines[2], "/b"))
}

func TestDiffOutlines(t *testing.T) {
	before := Plain(sample())

	moved := sample()
	moved.Entries[4].ParentIndex = nil
	after := Plain(moved)

	diff := DiffOutlines(before, after)
	require.True(t, Changed(diff))

	formatted := FormatDiff(diff)
	assert.Contains(t, formatted, "-   - E <https://e.example>")
	assert.Contains(t, formatted, "+ - E <https://e.example>")
	assert.Contains(t, formatted, "  # Work (5)")
}

func TestDiffOutlines_Identical(t *testing.T) {
	out := Plain(sample())
	diff := DiffOutlines(out, out)
	assert.False(t, Changed(diff))
	for _, d := range diff {
		assert.Equal(t, diffmatchpatch.DiffEqual, d.Op)
	}
	assert.Equal(t, strings.Count(out, "\n"), len(diff))
}
