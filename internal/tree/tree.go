// Package tree holds the tab tree: Views partitioning the tab set, Nodes with
// ordered children and derived depth, and the tab-to-node index. All
// mutation goes through the narrow operations on State, each of which keeps
// depth, view and window membership consistent for the whole affected
// subtree. State is not safe for concurrent use; the engine serializes access.
package tree

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/zjrosen/tabtree/internal/host"
)

// NodeID identifies a Node within one engine lifetime.
type NodeID string

// ViewID identifies a View.
type ViewID string

// Root is the parent id of root nodes.
const Root NodeID = ""

var (
	// ErrInvariantViolation marks a programming error such as removing a
	// node whose children were not resolved first.
	ErrInvariantViolation = errors.New("invariant violation")
	ErrNodeNotFound       = errors.New("node not found")
	ErrViewNotFound       = errors.New("view not found")
	ErrCycle              = errors.New("move would create a cycle")
	ErrLastView           = errors.New("cannot delete the last view")
)

func invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// Node is the tree-resident representation of one non-pinned tab.
type Node struct {
	ID         NodeID        `json:"id"`
	TabID      host.TabID    `json:"tabId"`
	ParentID   NodeID        `json:"parentId"`
	Children   []NodeID      `json:"children"`
	Depth      int           `json:"depth"`
	IsExpanded bool          `json:"isExpanded"`
	ViewID     ViewID        `json:"viewId"`
	WindowID   host.WindowID `json:"windowId"`
	URL        string        `json:"url"`
	Title      string        `json:"title"`
}

// IsRoot reports whether n has no parent.
func (n Node) IsRoot() bool { return n.ParentID == Root }

// MarshalJSON writes a root node's parentId as null.
func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	var parent *NodeID
	if !n.IsRoot() {
		parent = &n.ParentID
	}
	return json.Marshal(struct {
		plain
		ParentID *NodeID `json:"parentId"`
	}{plain(n), parent})
}

// View is a named partition of the tree.
type View struct {
	ID          ViewID   `json:"id"`
	Name        string   `json:"name"`
	Color       string   `json:"color"`
	RootNodeIDs []NodeID `json:"rootNodeIds"`
}

// TabRef locates a tab's node.
type TabRef struct {
	ViewID ViewID `json:"viewId"`
	NodeID NodeID `json:"nodeId"`
}

// Option configures a State.
type Option func(*State)

// WithIDGenerator replaces the uuid based node id generator.
func WithIDGenerator(gen func() NodeID) Option {
	return func(s *State) { s.newID = gen }
}

// State is the single source of truth for Views, Nodes and tabToNode.
type State struct {
	views     map[ViewID]*View
	viewOrder []ViewID
	nodes     map[NodeID]*Node
	tabToNode map[host.TabID]TabRef
	newID     func() NodeID
}

// New returns an empty State with no views.
func New(opts ...Option) *State {
	s := &State{
		views:     make(map[ViewID]*View),
		nodes:     make(map[NodeID]*Node),
		tabToNode: make(map[host.TabID]TabRef),
		newID:     func() NodeID { return NodeID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset drops every node and tab mapping. Views survive, emptied, since
// they persist independently of their population.
func (s *State) Reset() {
	s.nodes = make(map[NodeID]*Node)
	s.tabToNode = make(map[host.TabID]TabRef)
	for _, v := range s.views {
		v.RootNodeIDs = nil
	}
}

// --- views ---

// AddView appends a view. An empty id is generated.
func (s *State) AddView(id ViewID, name, color string) (*View, error) {
	if id == "" {
		id = ViewID(uuid.NewString())
	}
	if _, ok := s.views[id]; ok {
		return nil, invariant("view %s already exists", id)
	}
	v := &View{ID: id, Name: name, Color: color}
	s.views[id] = v
	s.viewOrder = append(s.viewOrder, id)
	return v, nil
}

// RemoveView deletes a view, moving its roots (with their subtrees) to the
// end of the fallback view. The last view cannot be removed.
func (s *State) RemoveView(id, fallback ViewID) error {
	v, ok := s.views[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrViewNotFound, id)
	}
	if len(s.views) == 1 {
		return ErrLastView
	}
	if fallback == id {
		return invariant("fallback view equals removed view %s", id)
	}
	if _, ok := s.views[fallback]; !ok {
		return fmt.Errorf("%w: %s", ErrViewNotFound, fallback)
	}
	for _, rid := range slices.Clone(v.RootNodeIDs) {
		if err := s.MoveToView(rid, fallback, -1); err != nil {
			return err
		}
	}
	delete(s.views, id)
	s.viewOrder = slices.DeleteFunc(s.viewOrder, func(x ViewID) bool { return x == id })
	return nil
}

// View returns the view with id.
func (s *State) View(id ViewID) (*View, bool) {
	v, ok := s.views[id]
	return v, ok
}

// Views returns views in creation order.
func (s *State) Views() []*View {
	out := make([]*View, 0, len(s.viewOrder))
	for _, id := range s.viewOrder {
		out = append(out, s.views[id])
	}
	return out
}

// DefaultView returns the first view, or nil when there are none.
func (s *State) DefaultView() *View {
	if len(s.viewOrder) == 0 {
		return nil
	}
	return s.views[s.viewOrder[0]]
}

// --- lookups ---

// Node returns the node with id.
func (s *State) Node(id NodeID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// NodeByTab returns the node for a tab.
func (s *State) NodeByTab(tab host.TabID) (*Node, bool) {
	ref, ok := s.tabToNode[tab]
	if !ok {
		return nil, false
	}
	n, ok := s.nodes[ref.NodeID]
	return n, ok
}

// HasTab reports whether tab has a tabToNode entry.
func (s *State) HasTab(tab host.TabID) bool {
	_, ok := s.tabToNode[tab]
	return ok
}

// TabToNode returns a copy of the tab index.
func (s *State) TabToNode() map[host.TabID]TabRef {
	out := make(map[host.TabID]TabRef, len(s.tabToNode))
	for k, v := range s.tabToNode {
		out[k] = v
	}
	return out
}

// Nodes returns every node, unordered.
func (s *State) Nodes() map[NodeID]*Node {
	return s.nodes
}

// Len returns the node count.
func (s *State) Len() int { return len(s.nodes) }

// siblings returns the ordered list that holds n: its parent's children,
// or its view's roots.
func (s *State) siblings(n *Node) *[]NodeID {
	if n.IsRoot() {
		return &s.views[n.ViewID].RootNodeIDs
	}
	return &s.nodes[n.ParentID].Children
}

// Siblings returns a copy of the ordered list n sits in.
func (s *State) Siblings(id NodeID) ([]NodeID, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return slices.Clone(*s.siblings(n)), nil
}

// IndexInParent returns n's position among its siblings.
func (s *State) IndexInParent(id NodeID) int {
	n, ok := s.nodes[id]
	if !ok {
		return -1
	}
	return slices.Index(*s.siblings(n), id)
}

// IsDescendant reports whether id lies strictly below ancestor.
func (s *State) IsDescendant(id, ancestor NodeID) bool {
	n, ok := s.nodes[id]
	for ok && n.ParentID != Root {
		if n.ParentID == ancestor {
			return true
		}
		n, ok = s.nodes[n.ParentID]
	}
	return false
}

// RootAncestor returns the root of id's tree.
func (s *State) RootAncestor(id NodeID) NodeID {
	n, ok := s.nodes[id]
	if !ok {
		return Root
	}
	for n.ParentID != Root {
		n = s.nodes[n.ParentID]
	}
	return n.ID
}

// Subtree returns id and its descendants in depth-first order.
func (s *State) Subtree(id NodeID) []*Node {
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	var out []*Node
	s.walk(n, func(x *Node) { out = append(out, x) })
	return out
}

func (s *State) walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, cid := range n.Children {
		s.walk(s.nodes[cid], fn)
	}
}

// DepthFirst returns every node of a view: each parent immediately followed
// by its whole subtree, recursively, before the next sibling.
func (s *State) DepthFirst(view ViewID) []*Node {
	v, ok := s.views[view]
	if !ok {
		return nil
	}
	var out []*Node
	for _, rid := range v.RootNodeIDs {
		s.walk(s.nodes[rid], func(x *Node) { out = append(out, x) })
	}
	return out
}

// WindowOrder is the depth-first order of one window across all views in
// view order. It is the order the host's unpinned tabs must follow.
func (s *State) WindowOrder(w host.WindowID) []*Node {
	var out []*Node
	for _, vid := range s.viewOrder {
		for _, rid := range s.views[vid].RootNodeIDs {
			r := s.nodes[rid]
			if r.WindowID != w {
				continue
			}
			s.walk(r, func(x *Node) { out = append(out, x) })
		}
	}
	return out
}
