package tree

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/zjrosen/tabtree/internal/host"
)

// AddNode appends a node for tab as the last child of parent, or as the last
// root of view when parent is Root.
func (s *State) AddNode(tab host.TabID, parent NodeID, view ViewID) (*Node, error) {
	return s.AddNodeAt(tab, parent, view, -1)
}

// AddNodeAt inserts a node for tab at index of the target list (-1 appends).
// A child inherits its parent's view and window; view may be empty then.
func (s *State) AddNodeAt(tab host.TabID, parent NodeID, view ViewID, index int) (*Node, error) {
	if s.HasTab(tab) {
		return nil, invariant("tab %d already has a node", tab)
	}
	n := &Node{ID: s.newID(), TabID: tab, ParentID: parent, IsExpanded: true}
	var list *[]NodeID
	if parent != Root {
		p, ok := s.nodes[parent]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrNodeNotFound, parent)
		}
		if view != "" && view != p.ViewID {
			return nil, invariant("child view %s differs from parent view %s", view, p.ViewID)
		}
		n.ViewID, n.Depth, n.WindowID = p.ViewID, p.Depth+1, p.WindowID
		list = &p.Children
	} else {
		v, ok := s.views[view]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrViewNotFound, view)
		}
		n.ViewID = view
		list = &v.RootNodeIDs
	}
	s.nodes[n.ID] = n
	*list = insertAt(*list, index, n.ID)
	s.tabToNode[tab] = TabRef{ViewID: n.ViewID, NodeID: n.ID}
	return n, nil
}

// RemoveNode deletes a childless node. Callers resolve children first with
// PromoteChildren or DissolveToRoots.
func (s *State) RemoveNode(id NodeID) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if len(n.Children) > 0 {
		return invariant("remove node %s with %d unresolved children", id, len(n.Children))
	}
	s.detach(n)
	delete(s.nodes, id)
	if ref, ok := s.tabToNode[n.TabID]; ok && ref.NodeID == id {
		delete(s.tabToNode, n.TabID)
	}
	return nil
}

// Reparent moves id (with its subtree) under newParent at index of the
// parent's final child list. Root moves it to its view's root list. A
// parent in another view or window carries the subtree along.
func (s *State) Reparent(id, newParent NodeID, index int) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if newParent == Root {
		s.detach(n)
		v := s.views[n.ViewID]
		v.RootNodeIDs = insertAt(v.RootNodeIDs, index, id)
		n.ParentID = Root
		s.retag(n, 0, n.ViewID, n.WindowID)
		return nil
	}
	p, ok := s.nodes[newParent]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNodeNotFound, newParent)
	}
	if newParent == id || s.IsDescendant(newParent, id) {
		return fmt.Errorf("%w: %s under %s", ErrCycle, id, newParent)
	}
	s.detach(n)
	p.Children = insertAt(p.Children, index, id)
	n.ParentID = newParent
	s.retag(n, p.Depth+1, p.ViewID, p.WindowID)
	return nil
}

// MoveToView makes id a root of view at index, carrying its subtree.
func (s *State) MoveToView(id NodeID, view ViewID, index int) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	v, ok := s.views[view]
	if !ok {
		return fmt.Errorf("%w: %s", ErrViewNotFound, view)
	}
	s.detach(n)
	v.RootNodeIDs = insertAt(v.RootNodeIDs, index, id)
	n.ParentID = Root
	s.retag(n, 0, view, n.WindowID)
	return nil
}

// MoveSibling reorders id within its current sibling list.
func (s *State) MoveSibling(id NodeID, index int) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	list := s.siblings(n)
	*list = slices.DeleteFunc(*list, func(x NodeID) bool { return x == id })
	*list = insertAt(*list, index, id)
	return nil
}

// SetExpanded sets the collapse flag.
func (s *State) SetExpanded(id NodeID, expanded bool) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	n.IsExpanded = expanded
	return nil
}

// SetWindow assigns a root and its subtree to window w.
func (s *State) SetWindow(id NodeID, w host.WindowID) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if !n.IsRoot() {
		return invariant("set window on non-root %s", id)
	}
	s.retag(n, 0, n.ViewID, w)
	return nil
}

// SetMeta records url and title on a node.
func (s *State) SetMeta(id NodeID, url, title string) {
	if n, ok := s.nodes[id]; ok {
		n.URL, n.Title = url, title
	}
}

// PromoteChildren splices id's children into id's own sibling list directly
// after id, keeping their order and subtrees. Depth drops by one throughout.
func (s *State) PromoteChildren(id NodeID) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if len(n.Children) == 0 {
		return nil
	}
	children := n.Children
	n.Children = nil
	list := s.siblings(n)
	pos := slices.Index(*list, id)
	*list = slices.Insert(*list, pos+1, children...)
	for _, cid := range children {
		c := s.nodes[cid]
		c.ParentID = n.ParentID
		s.retag(c, n.Depth, n.ViewID, n.WindowID)
	}
	return nil
}

// RemoveWithPromotion removes id after promoting its children into its slot.
func (s *State) RemoveWithPromotion(id NodeID) error {
	if err := s.PromoteChildren(id); err != nil {
		return err
	}
	return s.RemoveNode(id)
}

// RemoveNodes removes a batch with promotion, deepest first, so every
// survivor ends up under its nearest surviving ancestor in original order.
// Unknown ids are skipped.
func (s *State) RemoveNodes(ids []NodeID) error {
	batch := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			batch = append(batch, n)
		}
	}
	slices.SortStableFunc(batch, func(a, b *Node) int { return cmp.Compare(b.Depth, a.Depth) })
	for _, n := range batch {
		if err := s.RemoveWithPromotion(n.ID); err != nil {
			return err
		}
	}
	return nil
}

// DissolveToRoots turns id's children into roots of the same view, in order,
// placed directly after id's root ancestor. id is left childless.
func (s *State) DissolveToRoots(id NodeID) ([]NodeID, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if len(n.Children) == 0 {
		return nil, nil
	}
	children := n.Children
	n.Children = nil
	v := s.views[n.ViewID]
	pos := slices.Index(v.RootNodeIDs, s.RootAncestor(id))
	v.RootNodeIDs = slices.Insert(v.RootNodeIDs, pos+1, children...)
	for _, cid := range children {
		c := s.nodes[cid]
		c.ParentID = Root
		s.retag(c, 0, n.ViewID, n.WindowID)
	}
	return children, nil
}

// RemoveSubtree deletes id and all its descendants and returns their tabs in
// depth-first order.
func (s *State) RemoveSubtree(id NodeID) ([]host.TabID, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	sub := s.Subtree(id)
	s.detach(n)
	tabs := make([]host.TabID, 0, len(sub))
	for _, x := range sub {
		tabs = append(tabs, x.TabID)
		delete(s.nodes, x.ID)
		delete(s.tabToNode, x.TabID)
	}
	return tabs, nil
}

func (s *State) detach(n *Node) {
	list := s.siblings(n)
	*list = slices.DeleteFunc(*list, func(x NodeID) bool { return x == n.ID })
}

// retag sets depth, view and window on n and propagates them downwards.
func (s *State) retag(n *Node, depth int, view ViewID, w host.WindowID) {
	n.Depth, n.ViewID, n.WindowID = depth, view, w
	s.tabToNode[n.TabID] = TabRef{ViewID: view, NodeID: n.ID}
	for _, cid := range n.Children {
		s.retag(s.nodes[cid], depth+1, view, w)
	}
}

func insertAt(list []NodeID, index int, id NodeID) []NodeID {
	if index < 0 || index > len(list) {
		index = len(list)
	}
	return slices.Insert(list, index, id)
}

// MoveBefore places id (with its subtree) as the sibling directly before
// ref, taking ref's parent, view and window.
func (s *State) MoveBefore(id, ref NodeID) error {
	return s.moveBeside(id, ref, 0)
}

// MoveAfter places id (with its subtree) as the sibling directly after ref.
func (s *State) MoveAfter(id, ref NodeID) error {
	return s.moveBeside(id, ref, 1)
}

func (s *State) moveBeside(id, ref NodeID, offset int) error {
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	r, ok := s.nodes[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, ref)
	}
	if id == ref || s.IsDescendant(ref, id) {
		return fmt.Errorf("%w: %s beside %s", ErrCycle, id, ref)
	}
	s.detach(n)
	list := s.siblings(r)
	pos := slices.Index(*list, ref) + offset
	*list = slices.Insert(*list, pos, id)
	n.ParentID = r.ParentID
	s.retag(n, r.Depth, r.ViewID, r.WindowID)
	return nil
}

// Clone returns a deep copy sharing only the id generator.
func (s *State) Clone() *State {
	c := &State{
		views:     make(map[ViewID]*View, len(s.views)),
		viewOrder: slices.Clone(s.viewOrder),
		nodes:     make(map[NodeID]*Node, len(s.nodes)),
		tabToNode: s.TabToNode(),
		newID:     s.newID,
	}
	for id, v := range s.views {
		cv := *v
		cv.RootNodeIDs = slices.Clone(v.RootNodeIDs)
		c.views[id] = &cv
	}
	for id, n := range s.nodes {
		cn := *n
		cn.Children = slices.Clone(n.Children)
		c.nodes[id] = &cn
	}
	return c
}
