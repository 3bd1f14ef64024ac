package persistence

import (
	"slices"
	"time"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/tree"
)

// Topology is the part of the tree that survives a restart: views and the
// depth-first flattening of their nodes.
type Topology struct {
	Views   []tree.View
	Entries []Entry
}

// Project builds a full record from the state.
func Project(s *tree.State) *Record {
	topo := Flatten(s)
	nodes := make(map[tree.NodeID]tree.Node, s.Len())
	for id, n := range s.Nodes() {
		cn := *n
		cn.Children = slices.Clone(n.Children)
		nodes[id] = cn
	}
	return &Record{
		SchemaVersion: CurrentSchemaVersion,
		SavedAt:       time.Now().UTC(),
		Views:         topo.Views,
		Nodes:         nodes,
		TabToNode:     s.TabToNode(),
		TreeStructure: topo.Entries,
	}
}

// Flatten walks every view in order, depth first, emitting one entry per
// node with parentIndex pointing at its parent's entry.
func Flatten(s *tree.State) Topology {
	var topo Topology
	pos := make(map[tree.NodeID]int, s.Len())
	for _, v := range s.Views() {
		cv := *v
		cv.RootNodeIDs = slices.Clone(v.RootNodeIDs)
		topo.Views = append(topo.Views, cv)
		for _, n := range s.DepthFirst(v.ID) {
			e := Entry{
				URL:        n.URL,
				Title:      n.Title,
				Index:      s.IndexInParent(n.ID),
				ViewID:     n.ViewID,
				IsExpanded: n.IsExpanded,
			}
			if !n.IsRoot() {
				p := pos[n.ParentID]
				e.ParentIndex = &p
			}
			pos[n.ID] = len(topo.Entries)
			topo.Entries = append(topo.Entries, e)
		}
	}
	return topo
}

// Match pairs entries with tabs by URL. For each URL, the first unmatched
// entry in array order claims the first unmatched tab in the given order.
// The result holds, per entry, the index into tabs or -1.
func Match(entries []Entry, tabs []host.Tab) []int {
	queues := make(map[string][]int)
	for i, t := range tabs {
		queues[t.URL] = append(queues[t.URL], i)
	}
	out := make([]int, len(entries))
	for i, e := range entries {
		q := queues[e.URL]
		if len(q) == 0 {
			out[i] = -1
			continue
		}
		out[i] = q[0]
		queues[e.URL] = q[1:]
	}
	return out
}

// Placement is one matched entry resolved to a host tab and the entry it
// should hang under.
type Placement struct {
	Entry  int
	Tab    host.Tab
	ViewID tree.ViewID
	// Parent is the entry index of the nearest matched ancestor in the same
	// window and view, or -1 for a root.
	Parent     int
	IsExpanded bool
}

// Resolve matches entries to tabs and computes each matched entry's parent.
// Placements come back in entry order, so parents precede children. The
// second result lists the tabs no entry claimed, in input order.
func Resolve(entries []Entry, tabs []host.Tab) ([]Placement, []host.Tab) {
	match := Match(entries, tabs)
	claimed := make([]bool, len(tabs))
	var out []Placement
	for i, e := range entries {
		ti := match[i]
		if ti < 0 {
			continue
		}
		claimed[ti] = true
		t := tabs[ti]
		parent := -1
		for p := e.ParentIndex; p != nil; p = entries[*p].ParentIndex {
			pi := match[*p]
			if pi < 0 || tabs[pi].WindowID != t.WindowID || entries[*p].ViewID != e.ViewID {
				continue
			}
			parent = *p
			break
		}
		out = append(out, Placement{Entry: i, Tab: t, ViewID: e.ViewID, Parent: parent, IsExpanded: e.IsExpanded})
	}
	var rest []host.Tab
	for i, t := range tabs {
		if !claimed[i] {
			rest = append(rest, t)
		}
	}
	return out, rest
}
