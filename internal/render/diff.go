package render

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffLine is one line of a line-level diff.
type DiffLine struct {
	Op   diffmatchpatch.Operation
	Text string
}

// DiffOutlines compares two plain outlines line by line.
func DiffOutlines(before, after string) []DiffLine {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out []DiffLine
	for _, d := range diffs {
		for _, text := range strings.SplitAfter(d.Text, "\n") {
			if text == "" {
				continue
			}
			out = append(out, DiffLine{Op: d.Type, Text: strings.TrimSuffix(text, "\n")})
		}
	}
	return out
}

// Changed reports whether any line was added or removed.
func Changed(diff []DiffLine) bool {
	for _, d := range diff {
		if d.Op != diffmatchpatch.DiffEqual {
			return true
		}
	}
	return false
}

// FormatDiff prefixes each line with "+", "-" or a space.
func FormatDiff(diff []DiffLine) string {
	var b strings.Builder
	for _, d := range diff {
		switch d.Op {
		case diffmatchpatch.DiffInsert:
			b.WriteString("+ ")
		case diffmatchpatch.DiffDelete:
			b.WriteString("- ")
		default:
			b.WriteString("  ")
		}
		b.WriteString(d.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
