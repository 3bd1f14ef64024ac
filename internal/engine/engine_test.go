package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/host/memhost"
	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/storage"
	"github.com/zjrosen/tabtree/internal/tree"
)

func TestColdStart_EveryUnpinnedTabBecomesRoot(t *testing.T) {
	h := memhost.New()
	w := h.OpenWindow("/a", "/b", "/c")
	_, err := h.UpdateTab(context.Background(), 1, host.UpdateProperties{Pinned: host.Bool(true)})
	require.NoError(t, err)

	f := newFixture(t, h, h, storage.NewMemoryKV(), testSettings())
	defer f.eng.Close()
	require.NoError(t, f.eng.Initialize(context.Background()))
	f.settle()

	assert.False(t, f.hasNode(1), "pinned tab must not get a node")
	assert.Equal(t, []host.TabID{2, 3}, f.rootTabs(w))

	st, err := f.eng.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []host.TabID{1}, st.Pinned[w])
	assert.True(t, st.Initialized)
	f.requireConsistent(w)
}

// Closing A in A -> B -> {C, D} leaves B a root with C and D still under it.
func TestCloseTab_PromotesChildrenToGrandparent(t *testing.T) {
	for _, tc := range []struct {
		name  string
		close func(f *fixture, a host.TabID)
	}{
		{"request", func(f *fixture, a host.TabID) {
			require.NoError(f.t, f.eng.CloseTab(context.Background(), a, false))
		}},
		{"host event", func(f *fixture, a host.TabID) {
			require.NoError(f.t, f.host.RemoveTabs(context.Background(), a))
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f, w := startedFixture(t, "/A")
			a := host.TabID(1)
			b := f.createChild(a, "/B")
			c := f.createChild(b, "/C")
			d := f.createChild(b, "/D")
			f.settle()

			tc.close(f, a)
			f.settle()

			assert.False(t, f.hasNode(a))
			nb := f.node(b)
			assert.True(t, nb.IsRoot())
			assert.Equal(t, 0, nb.Depth)
			assert.Equal(t, []host.TabID{c, d}, f.childTabs(b))
			assert.Equal(t, 1, f.node(c).Depth)
			assert.Equal(t, 1, f.node(d).Depth)
			f.requireConsistent(w)
		})
	}
}

func TestCloseTab_WithDescendants(t *testing.T) {
	f, w := startedFixture(t, "/A", "/Z")
	a := host.TabID(1)
	b := f.createChild(a, "/B")
	f.createChild(b, "/C")
	f.settle()

	require.NoError(t, f.eng.CloseTab(context.Background(), a, true))
	f.settle()

	assert.Equal(t, []string{"/Z"}, f.host.URLs(w))
	assert.Equal(t, []host.TabID{2}, f.rootTabs(w))
	f.requireConsistent(w)
}

func TestRequests_UnknownTabIsTargetNotFound(t *testing.T) {
	f, _ := startedFixture(t, "/a")
	ctx := context.Background()

	err := f.eng.CloseTab(ctx, 424242, false)
	require.ErrorIs(t, err, ErrTargetNotFound)
	var nf *TargetNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, host.TabID(424242), nf.TabID)

	require.ErrorIs(t, f.eng.ActivateTab(ctx, 424242), ErrTargetNotFound)
	require.ErrorIs(t, f.eng.PinTab(ctx, 424242), ErrTargetNotFound)
	require.ErrorIs(t, f.eng.SetExpanded(ctx, 424242, false), ErrTargetNotFound)
	require.ErrorIs(t, f.eng.SetDragState(ctx, DragState{TabID: 424242}), ErrTargetNotFound)
	require.ErrorIs(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 1, TargetTabID: 424242, Relation: RelationChild}), ErrTargetNotFound)
	_, err = f.eng.CreateTab(ctx, CreateTabRequest{URL: "/x", ParentTabID: 424242})
	require.ErrorIs(t, err, ErrTargetNotFound)
}

// A -> B -> C -> D survives a restart with fresh tab ids.
func TestTreeStructure_RoundTripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()

	h := memhost.New()
	h.OpenWindow("/A")
	f := newFixture(t, h, h, kv, testSettings())
	defer f.eng.Close()
	require.NoError(t, f.eng.Initialize(ctx))
	b := f.createChild(1, "/B")
	c := f.createChild(b, "/C")
	f.createChild(c, "/D")
	f.settle()
	require.NoError(t, f.persist.Flush(ctx))

	requireChain := func(t *testing.T, f *fixture, w host.WindowID) {
		tabs := f.host.Order(w)
		require.Len(t, tabs, 4)
		var parent tree.NodeID
		for depth, tab := range tabs {
			n := f.node(tab)
			assert.Equal(t, depth, n.Depth, "depth of %s", n.URL)
			assert.Equal(t, parent, n.ParentID, "parent of %s", n.URL)
			parent = n.ID
		}
	}

	t.Run("same host after reset", func(t *testing.T) {
		f.eng.Reset()
		require.NoError(t, f.eng.Initialize(ctx))
		requireChain(t, f, 1)
	})

	t.Run("new host with new ids", func(t *testing.T) {
		h2 := memhost.New()
		h2.OpenWindow("/unrelated")
		w2 := h2.OpenWindow("/A", "/B", "/C", "/D")
		f2 := newFixture(t, h2, h2, kv, testSettings())
		defer f2.eng.Close()
		require.NoError(t, f2.eng.Initialize(ctx))
		f2.settle()

		requireChain(t, f2, w2)
		assert.Equal(t, []host.TabID{1}, f2.rootTabs(1))
	})
}

func TestDurableAcks_WriteBeforeReturning(t *testing.T) {
	ctx := context.Background()

	t.Run("on", func(t *testing.T) {
		f, _ := startedFixture(t, "/A")
		require.NoError(t, f.persist.Flush(ctx))
		f.createChild(1, "/B")

		data, err := f.kv.Get(ctx, storage.KeyTreeState)
		require.NoError(t, err)
		rec, err := persistence.Decode(data)
		require.NoError(t, err)
		require.Len(t, rec.TreeStructure, 2)
		assert.Equal(t, 0, *rec.TreeStructure[1].ParentIndex)
	})

	t.Run("off", func(t *testing.T) {
		h := memhost.New()
		h.OpenWindow("/A")
		s := testSettings()
		s.DurableAcks = false
		f := newFixture(t, h, h, storage.NewMemoryKV(), s)
		defer f.eng.Close()
		require.NoError(t, f.eng.Initialize(ctx))
		f.createChild(1, "/B")

		_, err := f.kv.Get(ctx, storage.KeyTreeState)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

// Pinning dissolves the parent edge and unpinning never restores it.
func TestPin_DissolutionIsOneWay(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/A")
	a := host.TabID(1)
	b := f.createChild(a, "/B")
	c := f.createChild(a, "/C")
	f.settle()

	require.NoError(t, f.eng.PinTab(ctx, a))
	f.settle()

	assert.False(t, f.hasNode(a))
	assert.Equal(t, []host.TabID{b, c}, f.rootTabs(w))
	assert.Equal(t, 0, f.node(b).Depth)
	st, err := f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []host.TabID{a}, st.Pinned[w])
	f.requireConsistent(w)

	require.NoError(t, f.eng.UnpinTab(ctx, a))
	f.settle()

	na := f.node(a)
	assert.True(t, na.IsRoot())
	assert.Empty(t, na.Children)
	assert.True(t, f.node(b).IsRoot())
	assert.True(t, f.node(c).IsRoot())
	assert.Equal(t, []host.TabID{a, b, c}, f.rootTabs(w))
	st, err = f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Pinned[w])
	f.requireConsistent(w)
}

func TestPin_ExternalHostPinIsApplied(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/A", "/Z")
	b := f.createChild(2, "/B")
	f.settle()

	_, err := f.host.UpdateTab(ctx, 2, host.UpdateProperties{Pinned: host.Bool(true)})
	require.NoError(t, err)
	f.settle()

	assert.False(t, f.hasNode(2))
	assert.True(t, f.node(b).IsRoot())
	f.requireConsistent(w)
}

// A tabToNode entry without a live tab is invisible and reconciled away.
func TestGhostEntry_ExcludedAndRemovedBySync(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a", "/b")

	f.eng.mu.Lock()
	view := f.eng.activeViewLocked(w)
	_, err := f.eng.state.AddNode(99998, tree.Root, view)
	f.eng.mu.Unlock()
	require.NoError(t, err)

	st, err := f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ViewTabCounts[view])
	assert.NotContains(t, st.TabToNode, host.TabID(99998))

	require.NoError(t, f.eng.SyncTabs(ctx))
	assert.False(t, f.hasNode(99998))
	assert.True(t, f.hasNode(1))
	assert.True(t, f.hasNode(2))
	assert.Equal(t, []host.TabID{1, 2}, f.rootTabs(w))
}

func TestSyncTabs_AddsTabsTheEngineMissed(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a")
	_, err := f.host.CreateTab(ctx, host.CreateProperties{WindowID: w, URL: "/missed"})
	require.NoError(t, err)
	f.host.TakeEvents() // lost

	require.NoError(t, f.eng.SyncTabs(ctx))
	assert.True(t, f.hasNode(2))
	f.requireConsistent(w)
}

func TestUnread_BoundaryAtFirstColdStart(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/pre1", "/pre2")

	_, err := f.host.UpdateTab(ctx, 2, host.UpdateProperties{Title: host.String("changed in background")})
	require.NoError(t, err)
	f.settle()
	st, err := f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Unread, "pre-existing tabs start read")

	nt, err := f.host.CreateTab(ctx, host.CreateProperties{WindowID: w, URL: "/new"})
	require.NoError(t, err)
	f.settle()
	st, err = f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []host.TabID{nt.ID}, st.Unread)

	require.NoError(t, f.eng.ActivateTab(ctx, nt.ID))
	f.settle()
	st, err = f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Unread)

	require.NoError(t, f.eng.ActivateTab(ctx, 1))
	_, err = f.host.UpdateTab(ctx, nt.ID, host.UpdateProperties{Title: host.String("new content")})
	require.NoError(t, err)
	f.settle()
	st, err = f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []host.TabID{nt.ID}, st.Unread)
}

func TestUnread_TrackingDisabled(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a")
	s := f.eng.Settings()
	s.UnreadTracking = false
	f.eng.Apply(s)

	_, err := f.host.CreateTab(ctx, host.CreateProperties{WindowID: w, URL: "/bg"})
	require.NoError(t, err)
	f.settle()
	st, err := f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Unread)
}

func TestInitialization_TimeoutThenRecovery(t *testing.T) {
	ctx := context.Background()
	h := memhost.New()
	h.OpenWindow("/a")
	s := testSettings()
	s.InitTimeout = 20 * time.Millisecond
	f := newFixture(t, h, h, storage.NewMemoryKV(), s)
	defer f.eng.Close()

	err := f.eng.HandleEvent(ctx, host.Event{Kind: host.EventActivated, TabID: 1, WindowID: 1})
	require.ErrorIs(t, err, ErrInitializationTimeout)
	_, err = f.eng.GetState(ctx)
	require.ErrorIs(t, err, ErrInitializationTimeout)

	require.NoError(t, f.eng.Initialize(ctx))
	require.NoError(t, f.eng.HandleEvent(ctx, host.Event{Kind: host.EventActivated, TabID: 1, WindowID: 1}))
}

func TestInitialization_WaitingHandlerProceeds(t *testing.T) {
	ctx := context.Background()
	h := memhost.New()
	h.OpenWindow("/a")
	f := newFixture(t, h, h, storage.NewMemoryKV(), testSettings())
	defer f.eng.Close()

	created, err := h.CreateTab(ctx, host.CreateProperties{WindowID: 1, URL: "/early"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- f.eng.HandleEvent(ctx, host.Event{Kind: host.EventCreated, TabID: created.ID, WindowID: 1, Tab: &created})
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.eng.Initialize(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("handler did not resume after initialization")
	}
	assert.True(t, f.hasNode(created.ID))
}

type failingHost struct {
	*memhost.Host
	fail bool
}

func (h *failingHost) QueryWindows(ctx context.Context) ([]host.Window, error) {
	if h.fail {
		return nil, errors.New("host unavailable")
	}
	return h.Host.QueryWindows(ctx)
}

func TestInitialization_FailureThenSyncRecovers(t *testing.T) {
	ctx := context.Background()
	mh := memhost.New()
	mh.OpenWindow("/a")
	fh := &failingHost{Host: mh, fail: true}
	f := newFixture(t, fh, mh, storage.NewMemoryKV(), testSettings())
	defer f.eng.Close()

	require.Error(t, f.eng.Initialize(ctx))
	_, err := f.eng.GetState(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)

	fh.fail = false
	require.NoError(t, f.eng.SyncTabs(ctx))
	st, err := f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Nodes, 1)
}

func TestCreateTab_PositionPolicies(t *testing.T) {
	for _, tc := range []struct {
		policy    Position
		wantRoots []string
		wantKids  []string
	}{
		{PositionChild, []string{"/a", "/z"}, []string{"/x", "/n"}},
		{PositionFirstChild, []string{"/a", "/z"}, []string{"/n", "/x"}},
		{PositionSibling, []string{"/a", "/n", "/z"}, []string{"/x"}},
		{PositionEnd, []string{"/a", "/z", "/n"}, []string{"/x"}},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			f, w := startedFixture(t, "/a", "/z")
			f.createChild(1, "/x")
			s := f.eng.Settings()
			s.NewTabPosition = tc.policy
			f.eng.Apply(s)

			f.createChild(1, "/n")
			f.settle()

			urls := func(tabs []host.TabID) []string {
				out := make([]string, 0, len(tabs))
				for _, id := range tabs {
					out = append(out, f.node(id).URL)
				}
				return out
			}
			assert.Equal(t, tc.wantRoots, urls(f.rootTabs(w)))
			assert.Equal(t, tc.wantKids, urls(f.childTabs(1)))
			f.requireConsistent(w)
		})
	}
}

func TestCreatedEvent_OpenerBecomesParent(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a", "/b")
	linked, err := f.host.CreateTab(ctx, host.CreateProperties{WindowID: w, URL: "/link", OpenerID: 1})
	require.NoError(t, err)
	f.settle()

	assert.Equal(t, []host.TabID{linked.ID}, f.childTabs(1))
	assert.Equal(t, []host.TabID{1, linked.ID, 2}, f.hostOrder(w))
	f.requireConsistent(w)
}

func TestMoveNode_SelfInducedEventsAreNoOps(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a", "/b", "/c")

	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 3, TargetTabID: 1, Relation: RelationBefore}))
	assert.Equal(t, 1, f.host.MoveCalls())
	assert.Equal(t, []host.TabID{3, 1, 2}, f.hostOrder(w))

	f.settle()
	assert.Equal(t, 1, f.host.MoveCalls(), "echoed move must not trigger more host calls")
	assert.Equal(t, 0, f.eng.ledger.Pending())
	f.requireConsistent(w)
}

func TestMoveNode_ChildMovesSubtreeBlock(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a", "/b", "/c", "/d")
	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 2, TargetTabID: 1, Relation: RelationChild}))
	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 1, TargetTabID: 4, Relation: RelationChild}))
	f.settle()

	assert.Equal(t, []host.TabID{3, 4, 1, 2}, f.hostOrder(w))
	assert.Equal(t, 2, f.node(2).Depth)
	f.requireConsistent(w)
}

func TestMoveNode_RejectsCycle(t *testing.T) {
	ctx := context.Background()
	f, _ := startedFixture(t, "/a", "/b")
	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 2, TargetTabID: 1, Relation: RelationChild}))

	err := f.eng.MoveNode(ctx, MoveRequest{TabID: 1, TargetTabID: 2, Relation: RelationChild})
	require.ErrorIs(t, err, tree.ErrCycle)
	err = f.eng.MoveNode(ctx, MoveRequest{TabID: 1, TargetTabID: 1, Relation: RelationAfter})
	require.ErrorIs(t, err, tree.ErrCycle)
	err = f.eng.MoveNode(ctx, MoveRequest{TabID: 2, TargetTabID: 1, Relation: "sideways"})
	require.ErrorIs(t, err, ErrInvalidRelation)
}

func TestMoveNode_AcrossWindows(t *testing.T) {
	ctx := context.Background()
	f, w1 := startedFixture(t, "/a", "/b")
	w2 := f.host.OpenWindow("/x")
	f.settle()
	f.createChild(1, "/a1")
	f.settle()

	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 1, TargetTabID: 3, Relation: RelationAfter}))
	f.settle()

	assert.Equal(t, []string{"/x", "/a", "/a1"}, f.host.URLs(w2))
	assert.Equal(t, []string{"/b"}, f.host.URLs(w1))
	assert.Equal(t, w2, f.node(1).WindowID)
	f.requireConsistent(w1)
	f.requireConsistent(w2)
}

func TestExternalMove_TakesHostSlot(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a", "/b", "/c")
	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 2, TargetTabID: 1, Relation: RelationChild}))
	f.settle()

	_, err := f.host.MoveTab(ctx, 1, host.MoveProperties{Index: 2})
	require.NoError(t, err)
	f.settle()

	assert.Equal(t, []host.TabID{2, 3, 1}, f.hostOrder(w))
	assert.True(t, f.node(2).IsRoot(), "children of an externally moved tab stay in place")
	assert.Equal(t, []host.TabID{2, 3, 1}, f.rootTabs(w))
	f.requireConsistent(w)
}

func TestExternalMove_IntoSubtree(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a", "/b", "/c")
	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 2, TargetTabID: 1, Relation: RelationChild}))
	f.settle()

	_, err := f.host.MoveTab(ctx, 3, host.MoveProperties{Index: 1})
	require.NoError(t, err)
	f.settle()

	assert.Equal(t, []host.TabID{1, 3, 2}, f.hostOrder(w))
	assert.Equal(t, []host.TabID{3, 2}, f.childTabs(1))
	f.requireConsistent(w)
}

func TestMoveToNewWindow_CarriesSubtree(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a", "/b", "/c")
	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 2, TargetTabID: 1, Relation: RelationChild}))
	f.settle()

	nw, err := f.eng.MoveToNewWindow(ctx, 1)
	require.NoError(t, err)
	f.settle()

	assert.Equal(t, []host.TabID{1, 2}, f.host.Order(nw))
	assert.Equal(t, []host.TabID{3}, f.host.Order(w))
	na := f.node(1)
	assert.True(t, na.IsRoot())
	assert.Equal(t, nw, na.WindowID)
	assert.Equal(t, na.ID, f.node(2).ParentID)
	f.requireConsistent(w)
	f.requireConsistent(nw)
}

func TestWindowClose_DropsOnlyThatWindow(t *testing.T) {
	ctx := context.Background()
	f, w1 := startedFixture(t, "/a", "/b")
	w2 := f.host.OpenWindow("/x", "/y")
	f.settle()
	_, err := f.host.UpdateTab(ctx, 4, host.UpdateProperties{Pinned: host.Bool(true)})
	require.NoError(t, err)
	f.settle()

	require.NoError(t, f.host.CloseWindow(w2))
	f.settle()

	st, err := f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Nodes, 2)
	assert.NotContains(t, st.Pinned, w2)
	assert.NotContains(t, st.ActiveViews, w2)
	assert.Contains(t, st.ActiveViews, w1)
	f.requireConsistent(w1)
}

func TestViews_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a", "/b")
	f.eng.mu.Lock()
	def := f.eng.activeViewLocked(w)
	f.eng.mu.Unlock()

	work, err := f.eng.CreateView(ctx, "Work", "#ff0000")
	require.NoError(t, err)

	require.NoError(t, f.eng.MoveTabToView(ctx, 2, work.ID))
	require.NoError(t, f.eng.MoveTabToView(ctx, 1, work.ID))
	f.settle()
	assert.Equal(t, []host.TabID{2, 1}, f.hostOrder(w), "view order drives host order")
	f.requireConsistent(w)

	require.NoError(t, f.eng.SwitchView(ctx, w, work.ID))
	st, err := f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, work.ID, st.ActiveViews[w])
	assert.Equal(t, 0, st.ViewTabCounts[def])
	assert.Equal(t, 2, st.ViewTabCounts[work.ID])

	require.NoError(t, f.eng.DeleteView(ctx, work.ID))
	st, err = f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, def, st.ActiveViews[w])
	assert.Equal(t, 2, st.ViewTabCounts[def])

	require.ErrorIs(t, f.eng.DeleteView(ctx, def), tree.ErrLastView)
	require.ErrorIs(t, f.eng.SwitchView(ctx, w, "nope"), tree.ErrViewNotFound)
}

func TestActivate_SwitchesWindowView(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a", "/b")
	work, err := f.eng.CreateView(ctx, "Work", "#00ff00")
	require.NoError(t, err)
	require.NoError(t, f.eng.MoveTabToView(ctx, 2, work.ID))

	require.NoError(t, f.eng.ActivateTab(ctx, 2))
	f.settle()
	st, err := f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, work.ID, st.ActiveViews[w])
}

func TestHover_ExpandsAfterDelay(t *testing.T) {
	ctx := context.Background()
	f, _ := startedFixture(t, "/a", "/b", "/c")
	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 2, TargetTabID: 1, Relation: RelationChild}))
	require.NoError(t, f.eng.SetExpanded(ctx, 1, false))

	require.NoError(t, f.eng.DragHover(ctx, 1))
	require.NoError(t, f.eng.DragHover(ctx, 1), "re-hovering keeps the timer")
	require.Eventually(t, func() bool { return f.node(1).IsExpanded }, time.Second, 5*time.Millisecond)
}

func TestHover_RearmsAfterCollapseUnderCursor(t *testing.T) {
	ctx := context.Background()
	f, _ := startedFixture(t, "/a", "/b")
	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 2, TargetTabID: 1, Relation: RelationChild}))
	require.NoError(t, f.eng.SetExpanded(ctx, 1, false))

	require.NoError(t, f.eng.DragHover(ctx, 1))
	require.Eventually(t, func() bool { return f.node(1).IsExpanded }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.eng.SetExpanded(ctx, 1, false))
	require.NoError(t, f.eng.DragHover(ctx, 1))
	require.Eventually(t, func() bool { return f.node(1).IsExpanded }, time.Second, 5*time.Millisecond)
}

func TestHover_CancelledByLeaveOrRetarget(t *testing.T) {
	ctx := context.Background()
	f, _ := startedFixture(t, "/a", "/b", "/c")
	require.NoError(t, f.eng.MoveNode(ctx, MoveRequest{TabID: 2, TargetTabID: 1, Relation: RelationChild}))
	require.NoError(t, f.eng.SetExpanded(ctx, 1, false))

	require.NoError(t, f.eng.DragHover(ctx, 1))
	require.NoError(t, f.eng.DragHoverEnd(ctx))
	assert.Never(t, func() bool { return f.node(1).IsExpanded }, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, f.eng.DragHover(ctx, 1))
	require.NoError(t, f.eng.DragHover(ctx, 3))
	assert.Never(t, func() bool { return f.node(1).IsExpanded }, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, f.eng.DragHover(ctx, 1))
	require.NoError(t, f.eng.ClearDragState(ctx))
	assert.Never(t, func() bool { return f.node(1).IsExpanded }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestDragState_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a")

	ds, err := f.eng.GetDragState(ctx)
	require.NoError(t, err)
	assert.Nil(t, ds)

	require.NoError(t, f.eng.SetDragState(ctx, DragState{TabID: 1, TreeData: []byte(`{"k":1}`), SourceWindowID: w}))
	ds, err = f.eng.GetDragState(ctx)
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.Equal(t, host.TabID(1), ds.TabID)
	assert.JSONEq(t, `{"k":1}`, string(ds.TreeData))

	require.NoError(t, f.eng.ClearDragState(ctx))
	ds, err = f.eng.GetDragState(ctx)
	require.NoError(t, err)
	assert.Nil(t, ds)
}

func TestRestoreTopology_Policies(t *testing.T) {
	ctx := context.Background()
	f, w := startedFixture(t, "/a")
	b := f.createChild(1, "/b")
	f.createChild(b, "/c")
	f.settle()

	topo, err := f.eng.CaptureTopology(ctx)
	require.NoError(t, err)
	require.Len(t, topo.Entries, 3)

	require.NoError(t, f.eng.RestoreTopology(ctx, topo, RestoreKeepCurrent))
	f.settle()
	st, err := f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Nodes, 6)
	assert.Equal(t, []string{"/a", "/b", "/c", "/a", "/b", "/c"}, f.host.URLs(w))
	f.requireConsistent(w)

	require.NoError(t, f.eng.RestoreTopology(ctx, topo, RestoreCloseCurrent))
	f.settle()
	st, err = f.eng.GetState(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Nodes, 3)
	assert.Equal(t, []string{"/a", "/b", "/c"}, f.host.URLs(w))
	tabs := f.host.Order(w)
	for depth, tab := range tabs {
		assert.Equal(t, depth, f.node(tab).Depth)
	}
	f.requireConsistent(w)
}

func TestSubscribe_BroadcastsStateUpdated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, _ := startedFixture(t, "/a")
	ch := f.eng.Subscribe(ctx)

	f.createChild(1, "/b")
	var first uint64
	select {
	case ev := <-ch:
		assert.Equal(t, "STATE_UPDATED", string(ev.Type))
		first = ev.Payload.Revision
		assert.NotZero(t, first)
	case <-time.After(time.Second):
		t.Fatal("no STATE_UPDATED broadcast")
	}

	f.createChild(1, "/c")
	select {
	case ev := <-ch:
		assert.Greater(t, ev.Payload.Revision, first)
	case <-time.After(time.Second):
		t.Fatal("no second STATE_UPDATED broadcast")
	}
}

// Whatever sequence of drops is applied, the host order ends up equal to
// the depth-first order of the tree.
func TestProperty_HostOrderFollowsTree(t *testing.T) {
	relations := []Relation{RelationBefore, RelationAfter, RelationChild}
	rapid.Check(t, func(rt *rapid.T) {
		h := memhost.New()
		w := h.OpenWindow("/1", "/2", "/3", "/4", "/5", "/6")
		f := newFixture(rt, h, h, storage.NewMemoryKV(), testSettings())
		defer f.eng.Close()
		require.NoError(rt, f.eng.Initialize(context.Background()))
		f.settle()

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			req := MoveRequest{
				TabID:       host.TabID(rapid.IntRange(1, 6).Draw(rt, "src")),
				TargetTabID: host.TabID(rapid.IntRange(1, 6).Draw(rt, "dst")),
				Relation:    rapid.SampledFrom(relations).Draw(rt, "relation"),
			}
			err := f.eng.MoveNode(context.Background(), req)
			if errors.Is(err, tree.ErrCycle) {
				continue
			}
			require.NoError(rt, err)
			f.settle()
			f.requireConsistent(w)
		}
		assert.Equal(rt, 0, f.eng.ledger.Pending(), "every self-induced move was echoed")
	})
}
