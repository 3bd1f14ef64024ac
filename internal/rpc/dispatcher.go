package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zjrosen/tabtree/internal/engine"
	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/snapshot"
	"github.com/zjrosen/tabtree/internal/tree"
)

// Engine is the engine surface the dispatcher serves. *engine.Engine
// implements it.
type Engine interface {
	GetState(ctx context.Context) (*engine.StateView, error)
	SyncTabs(ctx context.Context) error
	ActivateTab(ctx context.Context, id host.TabID) error
	CloseTab(ctx context.Context, id host.TabID, withDescendants bool) error
	CreateTab(ctx context.Context, req engine.CreateTabRequest) (host.Tab, error)
	SetExpanded(ctx context.Context, id host.TabID, expanded bool) error
	PinTab(ctx context.Context, id host.TabID) error
	UnpinTab(ctx context.Context, id host.TabID) error

	MoveNode(ctx context.Context, req engine.MoveRequest) error
	MoveToNewWindow(ctx context.Context, id host.TabID) (host.WindowID, error)
	SetDragState(ctx context.Context, ds engine.DragState) error
	GetDragState(ctx context.Context) (*engine.DragState, error)
	ClearDragState(ctx context.Context) error
	DragHover(ctx context.Context, id host.TabID) error
	DragHoverEnd(ctx context.Context) error

	CreateView(ctx context.Context, name, color string) (tree.View, error)
	DeleteView(ctx context.Context, id tree.ViewID) error
	SwitchView(ctx context.Context, w host.WindowID, id tree.ViewID) error
	MoveTabToView(ctx context.Context, tab host.TabID, id tree.ViewID) error
}

// Snapshots is the snapshot surface. *snapshot.Service implements it.
type Snapshots interface {
	Create(ctx context.Context, name string) (*snapshot.Summary, error)
	List(ctx context.Context) ([]snapshot.Summary, error)
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string, policy engine.RestorePolicy) error
	Export(ctx context.Context, id string) ([]byte, error)
	Import(ctx context.Context, data []byte) (*snapshot.Summary, error)
}

var (
	_ Engine    = (*engine.Engine)(nil)
	_ Snapshots = (*snapshot.Service)(nil)
)

type handlerFunc func(ctx context.Context, raw json.RawMessage) (any, error)

// Dispatcher routes requests to the engine and the snapshot store.
type Dispatcher struct {
	engine    Engine
	snapshots Snapshots
	handlers  map[MessageType]handlerFunc
}

// NewDispatcher builds the routing table. snapshots may be nil, in which
// case snapshot requests fail.
func NewDispatcher(eng Engine, snapshots Snapshots) *Dispatcher {
	d := &Dispatcher{engine: eng, snapshots: snapshots}
	d.handlers = map[MessageType]handlerFunc{
		TypeGetState:       d.getState,
		TypeSyncTabs:       d.syncTabs,
		TypeActivateTab:    d.activateTab,
		TypeCloseTab:       d.closeTab,
		TypeSetDragState:   d.setDragState,
		TypeGetDragState:   d.getDragState,
		TypeClearDragState: d.clearDragState,

		TypeCreateTab:       d.createTab,
		TypeMoveNode:        d.moveNode,
		TypeMoveToNewWindow: d.moveToNewWindow,
		TypePinTab:          d.pinTab,
		TypeUnpinTab:        d.unpinTab,
		TypeSetExpanded:     d.setExpanded,
		TypeDragHover:       d.dragHover,
		TypeDragHoverEnd:    d.dragHoverEnd,

		TypeCreateView:    d.createView,
		TypeDeleteView:    d.deleteView,
		TypeSwitchView:    d.switchView,
		TypeMoveTabToView: d.moveTabToView,

		TypeCreateSnapshot:  d.createSnapshot,
		TypeListSnapshots:   d.listSnapshots,
		TypeDeleteSnapshot:  d.deleteSnapshot,
		TypeRestoreSnapshot: d.restoreSnapshot,
		TypeExportSnapshot:  d.exportSnapshot,
		TypeImportSnapshot:  d.importSnapshot,
	}
	return d
}

// Types lists the supported request types.
func (d *Dispatcher) Types() []MessageType {
	out := make([]MessageType, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}

// Decode parses the envelope of a raw request.
func Decode(payload []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Type == "" {
		return Request{}, fmt.Errorf("%w: missing type", ErrInvalidRequest)
	}
	req.Raw = payload
	return req, nil
}

// Dispatch serves one raw request. It always returns a Response.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) Response {
	req, err := Decode(payload)
	if err != nil {
		return failure(err)
	}
	return d.Serve(ctx, req)
}

// Serve runs a decoded request, converting errors and panics into a
// failed Response.
func (d *Dispatcher) Serve(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatRPC, "request handler panicked", "type", req.Type, "panic", r, "stack", string(debug.Stack()))
			resp = Response{Success: false, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	h, ok := d.handlers[req.Type]
	if !ok {
		err := &UnknownMessageTypeError{Type: req.Type}
		log.Warn(log.CatRPC, "unknown message type", "type", req.Type)
		return failure(err)
	}
	data, err := h(ctx, req.Raw)
	if err != nil {
		log.Debug(log.CatRPC, "request failed", "type", req.Type, "error", err, "duration", time.Since(start))
		return failure(err)
	}
	log.Debug(log.CatRPC, "request served", "type", req.Type, "duration", time.Since(start))
	return Response{Success: true, Data: data}
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

func decodeParams[T any](raw json.RawMessage) (T, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return p, nil
}

func requireTab(id host.TabID) error {
	if id == 0 {
		return fmt.Errorf("%w: tabId is required", ErrInvalidRequest)
	}
	return nil
}

// tabRequest decodes {tabId} and calls fn with it.
func tabRequest(raw json.RawMessage, fn func(host.TabID) error) (any, error) {
	p, err := decodeParams[tabParams](raw)
	if err != nil {
		return nil, err
	}
	if err := requireTab(p.TabID); err != nil {
		return nil, err
	}
	return nil, fn(p.TabID)
}

func (d *Dispatcher) getState(ctx context.Context, _ json.RawMessage) (any, error) {
	return d.engine.GetState(ctx)
}

func (d *Dispatcher) syncTabs(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, d.engine.SyncTabs(ctx)
}

func (d *Dispatcher) activateTab(ctx context.Context, raw json.RawMessage) (any, error) {
	return tabRequest(raw, func(id host.TabID) error { return d.engine.ActivateTab(ctx, id) })
}

func (d *Dispatcher) closeTab(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[closeTabParams](raw)
	if err != nil {
		return nil, err
	}
	if err := requireTab(p.TabID); err != nil {
		return nil, err
	}
	return nil, d.engine.CloseTab(ctx, p.TabID, p.WithDescendants)
}

func (d *Dispatcher) setDragState(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[engine.DragState](raw)
	if err != nil {
		return nil, err
	}
	if err := requireTab(p.TabID); err != nil {
		return nil, err
	}
	return nil, d.engine.SetDragState(ctx, p)
}

func (d *Dispatcher) getDragState(ctx context.Context, _ json.RawMessage) (any, error) {
	ds, err := d.engine.GetDragState(ctx)
	if err != nil || ds == nil {
		return nil, err
	}
	return ds, nil
}

func (d *Dispatcher) clearDragState(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, d.engine.ClearDragState(ctx)
}

func (d *Dispatcher) createTab(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[engine.CreateTabRequest](raw)
	if err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	return d.engine.CreateTab(ctx, p)
}

func (d *Dispatcher) moveNode(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[engine.MoveRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := requireTab(p.TabID); err != nil {
		return nil, err
	}
	if p.TargetTabID == 0 {
		return nil, fmt.Errorf("%w: targetTabId is required", ErrInvalidRequest)
	}
	return nil, d.engine.MoveNode(ctx, p)
}

func (d *Dispatcher) moveToNewWindow(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[tabParams](raw)
	if err != nil {
		return nil, err
	}
	if err := requireTab(p.TabID); err != nil {
		return nil, err
	}
	w, err := d.engine.MoveToNewWindow(ctx, p.TabID)
	if err != nil {
		return nil, err
	}
	return MoveToNewWindowResult{WindowID: w}, nil
}

func (d *Dispatcher) pinTab(ctx context.Context, raw json.RawMessage) (any, error) {
	return tabRequest(raw, func(id host.TabID) error { return d.engine.PinTab(ctx, id) })
}

func (d *Dispatcher) unpinTab(ctx context.Context, raw json.RawMessage) (any, error) {
	return tabRequest(raw, func(id host.TabID) error { return d.engine.UnpinTab(ctx, id) })
}

func (d *Dispatcher) setExpanded(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[setExpandedParams](raw)
	if err != nil {
		return nil, err
	}
	if err := requireTab(p.TabID); err != nil {
		return nil, err
	}
	return nil, d.engine.SetExpanded(ctx, p.TabID, p.Expanded)
}

func (d *Dispatcher) dragHover(ctx context.Context, raw json.RawMessage) (any, error) {
	return tabRequest(raw, func(id host.TabID) error { return d.engine.DragHover(ctx, id) })
}

func (d *Dispatcher) dragHoverEnd(ctx context.Context, _ json.RawMessage) (any, error) {
	return nil, d.engine.DragHoverEnd(ctx)
}

func (d *Dispatcher) createView(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[createViewParams](raw)
	if err != nil {
		return nil, err
	}
	return d.engine.CreateView(ctx, p.Name, p.Color)
}

func (d *Dispatcher) deleteView(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[viewParams](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.engine.DeleteView(ctx, p.ViewID)
}

func (d *Dispatcher) switchView(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[switchViewParams](raw)
	if err != nil {
		return nil, err
	}
	if p.WindowID == host.NoWindow {
		return nil, fmt.Errorf("%w: windowId is required", ErrInvalidRequest)
	}
	return nil, d.engine.SwitchView(ctx, p.WindowID, p.ViewID)
}

func (d *Dispatcher) moveTabToView(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[moveTabToViewParams](raw)
	if err != nil {
		return nil, err
	}
	if err := requireTab(p.TabID); err != nil {
		return nil, err
	}
	return nil, d.engine.MoveTabToView(ctx, p.TabID, p.ViewID)
}

var errNoSnapshots = errors.New("snapshots are not available")

func (d *Dispatcher) createSnapshot(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.snapshots == nil {
		return nil, errNoSnapshots
	}
	p, err := decodeParams[createSnapshotParams](raw)
	if err != nil {
		return nil, err
	}
	return d.snapshots.Create(ctx, p.Name)
}

func (d *Dispatcher) listSnapshots(ctx context.Context, _ json.RawMessage) (any, error) {
	if d.snapshots == nil {
		return nil, errNoSnapshots
	}
	return d.snapshots.List(ctx)
}

func (d *Dispatcher) deleteSnapshot(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.snapshots == nil {
		return nil, errNoSnapshots
	}
	p, err := decodeParams[snapshotParams](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.snapshots.Delete(ctx, p.ID)
}

func (d *Dispatcher) restoreSnapshot(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.snapshots == nil {
		return nil, errNoSnapshots
	}
	p, err := decodeParams[restoreSnapshotParams](raw)
	if err != nil {
		return nil, err
	}
	policy, err := engine.ParseRestorePolicy(p.Policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil, d.snapshots.Restore(ctx, p.ID, policy)
}

func (d *Dispatcher) exportSnapshot(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.snapshots == nil {
		return nil, errNoSnapshots
	}
	p, err := decodeParams[snapshotParams](raw)
	if err != nil {
		return nil, err
	}
	data, err := d.snapshots.Export(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (d *Dispatcher) importSnapshot(ctx context.Context, raw json.RawMessage) (any, error) {
	if d.snapshots == nil {
		return nil, errNoSnapshots
	}
	p, err := decodeParams[importSnapshotParams](raw)
	if err != nil {
		return nil, err
	}
	data := bytes.TrimSpace(p.Data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: data is required", ErrInvalidRequest)
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		data = []byte(s)
	}
	return d.snapshots.Import(ctx, data)
}
