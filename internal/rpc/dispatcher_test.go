package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tabtree/internal/engine"
	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/host/memhost"
	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/snapshot"
	"github.com/zjrosen/tabtree/internal/storage"
	"github.com/zjrosen/tabtree/internal/tree"
)

type harness struct {
	t    *testing.T
	host *memhost.Host
	eng  *engine.Engine
	d    *Dispatcher
}

func newHarness(t *testing.T, urls ...string) *harness {
	t.Helper()
	h := memhost.New()
	h.OpenWindow(urls...)
	eng := engine.New(h, persistence.NewManager(storage.NewMemoryKV(), time.Hour), engine.DefaultSettings())
	t.Cleanup(eng.Close)
	require.NoError(t, eng.Initialize(context.Background()))
	snaps := snapshot.NewService(storage.NewMemorySnapshots(), eng)
	hs := &harness{t: t, host: h, eng: eng, d: NewDispatcher(eng, snaps)}
	hs.settle()
	return hs
}

func (h *harness) settle() {
	for range 100 {
		evs := h.host.TakeEvents()
		if len(evs) == 0 {
			return
		}
		for _, ev := range evs {
			require.NoError(h.t, h.eng.HandleEvent(context.Background(), ev))
		}
	}
	h.t.Fatal("host events did not settle")
}

// call dispatches a request built from a format string and settles.
func (h *harness) call(format string, args ...any) Response {
	resp := h.d.Dispatch(context.Background(), []byte(fmt.Sprintf(format, args...)))
	h.settle()
	return resp
}

func (h *harness) ok(format string, args ...any) any {
	resp := h.call(format, args...)
	require.True(h.t, resp.Success, "request %s failed: %s", fmt.Sprintf(format, args...), resp.Error)
	return resp.Data
}

func (h *harness) state() *engine.StateView {
	data := h.ok(`{"type":"GET_STATE"}`)
	st, ok := data.(*engine.StateView)
	require.True(h.t, ok, "GET_STATE returned %T", data)
	return st
}

func TestDispatch_UnknownType(t *testing.T) {
	h := newHarness(t, "/a")
	resp := h.call(`{"type":"FROBNICATE"}`)
	assert.False(t, resp.Success)
	assert.Equal(t, "Unknown message type: FROBNICATE", resp.Error)

	encoded, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"Unknown message type: FROBNICATE"}`, string(encoded))
}

func TestDispatch_MalformedRequests(t *testing.T) {
	h := newHarness(t, "/a")
	for name, payload := range map[string]string{
		"not json":        `{`,
		"missing type":    `{"tabId":1}`,
		"missing tab":     `{"type":"ACTIVATE_TAB"}`,
		"bad tab type":    `{"type":"CLOSE_TAB","tabId":"one"}`,
		"missing url":     `{"type":"CREATE_TAB"}`,
		"missing target":  `{"type":"MOVE_NODE","tabId":1,"relation":"child"}`,
		"missing window":  `{"type":"SWITCH_VIEW","viewId":"x"}`,
		"bad policy":      `{"type":"RESTORE_SNAPSHOT","id":"x","policy":"sometimes"}`,
		"empty import":    `{"type":"IMPORT_SNAPSHOT"}`,
		"bad relation":    `{"type":"MOVE_NODE","tabId":1,"targetTabId":1,"relation":"under"}`,
		"empty view name": `{"type":"CREATE_VIEW","name":"  "}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := h.call("%s", payload)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestDispatch_MissingTabNeverThrows(t *testing.T) {
	h := newHarness(t, "/a")
	for _, typ := range []MessageType{
		TypeActivateTab, TypeCloseTab, TypePinTab, TypeUnpinTab, TypeSetExpanded,
		TypeSetDragState, TypeDragHover, TypeMoveToNewWindow,
	} {
		resp := h.call(`{"type":%q,"tabId":4242}`, typ)
		assert.False(t, resp.Success, "%s", typ)
		assert.Contains(t, resp.Error, "4242", "%s", typ)
	}
}

func TestDispatch_PanicBecomesFailure(t *testing.T) {
	type nilEngine struct{ Engine }
	d := NewDispatcher(nilEngine{}, nil)
	resp := d.Dispatch(context.Background(), []byte(`{"type":"GET_STATE"}`))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "internal error")
}

func TestDispatch_TabLifecycle(t *testing.T) {
	h := newHarness(t, "/a", "/z")

	data := h.ok(`{"type":"CREATE_TAB","url":"/child","parentTabId":1}`)
	child, ok := data.(host.Tab)
	require.True(t, ok)

	st := h.state()
	ref := st.TabToNode[child.ID]
	assert.Equal(t, 1, st.Nodes[ref.NodeID].Depth)

	h.ok(`{"type":"SET_EXPANDED","tabId":1,"expanded":false}`)
	st = h.state()
	assert.False(t, st.Nodes[st.TabToNode[1].NodeID].IsExpanded)

	h.ok(`{"type":"ACTIVATE_TAB","tabId":%d}`, child.ID)
	h.ok(`{"type":"MOVE_NODE","tabId":2,"targetTabId":1,"relation":"before"}`)
	assert.Equal(t, []host.TabID{2, 1, child.ID}, h.host.Order(1))

	h.ok(`{"type":"CLOSE_TAB","tabId":1,"withDescendants":true}`)
	assert.Equal(t, []host.TabID{2}, h.host.Order(1))
	assert.Len(t, h.state().Nodes, 1)

	h.ok(`{"type":"SYNC_TABS"}`)
}

func TestDispatch_PinAndWindows(t *testing.T) {
	h := newHarness(t, "/a", "/b")

	h.ok(`{"type":"PIN_TAB","tabId":1}`)
	st := h.state()
	assert.Equal(t, []host.TabID{1}, st.Pinned[1])
	assert.NotContains(t, st.TabToNode, host.TabID(1))
	h.ok(`{"type":"UNPIN_TAB","tabId":1}`)
	assert.Contains(t, h.state().TabToNode, host.TabID(1))

	data := h.ok(`{"type":"MOVE_TO_NEW_WINDOW","tabId":2}`)
	res, ok := data.(MoveToNewWindowResult)
	require.True(t, ok)
	assert.Equal(t, []host.TabID{2}, h.host.Order(res.WindowID))
}

func TestDispatch_DragState(t *testing.T) {
	h := newHarness(t, "/a", "/b")

	assert.Nil(t, h.ok(`{"type":"GET_DRAG_STATE"}`))
	h.ok(`{"type":"SET_DRAG_STATE","tabId":1,"treeData":{"depth":0},"sourceWindowId":1}`)
	data := h.ok(`{"type":"GET_DRAG_STATE"}`)
	ds, ok := data.(*engine.DragState)
	require.True(t, ok)
	assert.Equal(t, host.TabID(1), ds.TabID)
	assert.Equal(t, host.WindowID(1), ds.SourceWindowID)
	assert.JSONEq(t, `{"depth":0}`, string(ds.TreeData))

	h.ok(`{"type":"DRAG_HOVER","tabId":2}`)
	h.ok(`{"type":"DRAG_HOVER_END"}`)
	h.ok(`{"type":"CLEAR_DRAG_STATE"}`)
	assert.Nil(t, h.ok(`{"type":"GET_DRAG_STATE"}`))
}

func TestDispatch_Views(t *testing.T) {
	h := newHarness(t, "/a", "/b")

	data := h.ok(`{"type":"CREATE_VIEW","name":"Work","color":"#FF0000"}`)
	view, ok := data.(tree.View)
	require.True(t, ok)

	h.ok(`{"type":"MOVE_TAB_TO_VIEW","tabId":2,"viewId":%q}`, view.ID)
	h.ok(`{"type":"SWITCH_VIEW","windowId":1,"viewId":%q}`, view.ID)
	st := h.state()
	assert.Equal(t, view.ID, st.ActiveViews[1])
	assert.Equal(t, 1, st.ViewTabCounts[view.ID])

	h.ok(`{"type":"DELETE_VIEW","viewId":%q}`, view.ID)
	st = h.state()
	assert.Len(t, st.Views, 1)
	resp := h.call(`{"type":"DELETE_VIEW","viewId":%q}`, st.Views[0].ID)
	assert.False(t, resp.Success)
}

func TestDispatch_Snapshots(t *testing.T) {
	h := newHarness(t, "/a")
	h.ok(`{"type":"CREATE_TAB","url":"/b","parentTabId":1}`)

	data := h.ok(`{"type":"CREATE_SNAPSHOT","name":"work"}`)
	sum, ok := data.(*snapshot.Summary)
	require.True(t, ok)

	list, ok := h.ok(`{"type":"LIST_SNAPSHOTS"}`).([]snapshot.Summary)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "work", list[0].Name)

	exported, ok := h.ok(`{"type":"EXPORT_SNAPSHOT","id":%q}`, sum.ID).(json.RawMessage)
	require.True(t, ok)

	h.ok(`{"type":"IMPORT_SNAPSHOT","data":%s}`, exported)
	quoted, err := json.Marshal(string(exported))
	require.NoError(t, err)
	h.ok(`{"type":"IMPORT_SNAPSHOT","data":%s}`, quoted)
	list = h.ok(`{"type":"LIST_SNAPSHOTS"}`).([]snapshot.Summary)
	assert.Len(t, list, 3)

	h.ok(`{"type":"RESTORE_SNAPSHOT","id":%q,"policy":"close_current"}`, sum.ID)
	assert.Equal(t, []string{"/a", "/b"}, h.host.URLs(1))

	h.ok(`{"type":"DELETE_SNAPSHOT","id":%q}`, sum.ID)
	resp := h.call(`{"type":"DELETE_SNAPSHOT","id":%q}`, sum.ID)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "snapshot not found")
}

func TestDispatch_SnapshotsUnavailable(t *testing.T) {
	h := newHarness(t, "/a")
	d := NewDispatcher(h.eng, nil)
	resp := d.Dispatch(context.Background(), []byte(`{"type":"LIST_SNAPSHOTS"}`))
	assert.False(t, resp.Success)
}
