// Package render draws a topology as an indented outline: a styled one for
// terminals and a plain one that diffs cleanly.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/tree"
)

const indentWidth = 2

// Line is one node of the outline.
type Line struct {
	ViewID      tree.ViewID
	Depth       int
	Title       string
	URL         string
	Expanded    bool
	HasChildren bool
}

// Section is one view with its lines in depth-first order.
type Section struct {
	View  tree.View
	Lines []Line
}

// Sections groups the entries by view, in view order. Entries whose view is
// unknown are collected under a trailing section named after the id.
func Sections(topo persistence.Topology) []Section {
	depth := make([]int, len(topo.Entries))
	hasChildren := make([]bool, len(topo.Entries))
	for i, e := range topo.Entries {
		if e.ParentIndex != nil && *e.ParentIndex >= 0 && *e.ParentIndex < i {
			depth[i] = depth[*e.ParentIndex] + 1
			hasChildren[*e.ParentIndex] = true
		}
	}

	byView := make(map[tree.ViewID][]Line)
	for i, e := range topo.Entries {
		byView[e.ViewID] = append(byView[e.ViewID], Line{
			ViewID:      e.ViewID,
			Depth:       depth[i],
			Title:       e.Title,
			URL:         e.URL,
			Expanded:    e.IsExpanded,
			HasChildren: hasChildren[i],
		})
	}

	out := make([]Section, 0, len(topo.Views))
	seen := make(map[tree.ViewID]bool, len(topo.Views))
	for _, v := range topo.Views {
		seen[v.ID] = true
		out = append(out, Section{View: v, Lines: byView[v.ID]})
	}
	for _, e := range topo.Entries {
		if !seen[e.ViewID] {
			seen[e.ViewID] = true
			out = append(out, Section{View: tree.View{ID: e.ViewID, Name: string(e.ViewID)}, Lines: byView[e.ViewID]})
		}
	}
	return out
}

func marker(l Line) string {
	switch {
	case !l.HasChildren:
		return "-"
	case l.Expanded:
		return "v"
	default:
		return ">"
	}
}

func label(l Line) string {
	if l.Title != "" {
		return l.Title
	}
	return l.URL
}

// Plain renders the outline without styling. Each node is one line, so the
// output diffs line by line.
func Plain(topo persistence.Topology) string {
	var b strings.Builder
	for _, s := range Sections(topo) {
		fmt.Fprintf(&b, "# %s (%d)\n", s.View.Name, len(s.Lines))
		for _, l := range s.Lines {
			fmt.Fprintf(&b, "%s%s %s", strings.Repeat(" ", l.Depth*indentWidth), marker(l), label(l))
			if l.Title != "" && l.URL != "" {
				fmt.Fprintf(&b, " <%s>", l.URL)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Options controls the styled outline.
type Options struct {
	// Width bounds every line; zero means unbounded.
	Width   int
	ShowURL bool
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	markerStyle = lipgloss.NewStyle().Faint(true)
	urlStyle    = lipgloss.NewStyle().Faint(true).Italic(true)
)

// Styled renders the outline for a terminal. View headers use the view's
// color; titles are truncated to fit Width, and urls are aligned in a
// column after the widest title.
func Styled(topo persistence.Topology, opts Options) string {
	sections := Sections(topo)

	col := 0
	for _, s := range sections {
		for _, l := range s.Lines {
			col = max(col, l.Depth*indentWidth+2+runewidth.StringWidth(label(l)))
		}
	}
	if opts.Width > 0 {
		col = min(col, opts.Width)
	}

	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteByte('\n')
		}
		header := headerStyle
		if s.View.Color != "" {
			header = header.Foreground(lipgloss.Color(s.View.Color))
		}
		b.WriteString(header.Render(fmt.Sprintf("%s (%d)", s.View.Name, len(s.Lines))))
		b.WriteByte('\n')

		for _, l := range s.Lines {
			indent := strings.Repeat(" ", l.Depth*indentWidth)
			room := col - len(indent) - 2
			text := label(l)
			if room > 0 && runewidth.StringWidth(text) > room {
				text = ansi.Truncate(text, room, "…")
			}
			line := indent + markerStyle.Render(marker(l)) + " " + runewidth.FillRight(text, max(room, 0))
			if opts.ShowURL && l.Title != "" && l.URL != "" {
				line += "  " + urlStyle.Render(l.URL)
			}
			if opts.Width > 0 && ansi.StringWidth(line) > opts.Width {
				line = ansi.Truncate(line, opts.Width, "…")
			}
			b.WriteString(strings.TrimRight(line, " "))
			b.WriteByte('\n')
		}
	}
	return b.String()
}
