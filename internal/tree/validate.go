package tree

import "fmt"

// Validate checks the structural invariants: depth follows parentage, every
// node is reachable from exactly one view's roots, children share their
// parent's view and window, and tabToNode agrees with the node set.
func (s *State) Validate() error {
	seen := make(map[NodeID]bool, len(s.nodes))
	var visit func(n *Node, parent *Node) error
	visit = func(n *Node, parent *Node) error {
		if seen[n.ID] {
			return invariant("node %s reachable twice", n.ID)
		}
		seen[n.ID] = true
		if parent == nil {
			if n.ParentID != Root || n.Depth != 0 {
				return invariant("root %s has parent %q depth %d", n.ID, n.ParentID, n.Depth)
			}
		} else {
			if n.ParentID != parent.ID {
				return invariant("node %s parent %s listed under %s", n.ID, n.ParentID, parent.ID)
			}
			if n.Depth != parent.Depth+1 {
				return invariant("node %s depth %d under depth %d", n.ID, n.Depth, parent.Depth)
			}
			if n.ViewID != parent.ViewID || n.WindowID != parent.WindowID {
				return invariant("node %s view/window differs from parent %s", n.ID, parent.ID)
			}
		}
		for _, cid := range n.Children {
			c, ok := s.nodes[cid]
			if !ok {
				return invariant("node %s lists missing child %s", n.ID, cid)
			}
			if err := visit(c, n); err != nil {
				return err
			}
		}
		return nil
	}

	for _, vid := range s.viewOrder {
		for _, rid := range s.views[vid].RootNodeIDs {
			r, ok := s.nodes[rid]
			if !ok {
				return invariant("view %s lists missing root %s", vid, rid)
			}
			if r.ViewID != vid {
				return invariant("root %s tagged view %s listed in %s", rid, r.ViewID, vid)
			}
			if err := visit(r, nil); err != nil {
				return err
			}
		}
	}
	if len(seen) != len(s.nodes) {
		return invariant("%d of %d nodes unreachable", len(s.nodes)-len(seen), len(s.nodes))
	}
	for tab, ref := range s.tabToNode {
		n, ok := s.nodes[ref.NodeID]
		if !ok || n.TabID != tab || n.ViewID != ref.ViewID {
			return invariant("tabToNode[%d] = %+v is stale", tab, ref)
		}
	}
	if len(s.tabToNode) != len(s.nodes) {
		return invariant("tabToNode has %d entries for %d nodes", len(s.tabToNode), len(s.nodes))
	}
	return nil
}

// String renders a compact outline for test failure messages.
func (s *State) String() string {
	out := ""
	for _, v := range s.Views() {
		out += fmt.Sprintf("[%s]\n", v.Name)
		for _, n := range s.DepthFirst(v.ID) {
			out += fmt.Sprintf("%*s%d %s\n", 2*n.Depth+2, "", n.TabID, n.URL)
		}
	}
	return out
}
