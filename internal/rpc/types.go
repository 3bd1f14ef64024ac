// Package rpc is the inbound request surface. Every request is a JSON object
// with a "type" field plus type specific parameters; every reply is a
// Response envelope. Failures never escape as errors or panics.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/tree"
)

// MessageType names a request.
type MessageType string

const (
	TypeGetState       MessageType = "GET_STATE"
	TypeSyncTabs       MessageType = "SYNC_TABS"
	TypeActivateTab    MessageType = "ACTIVATE_TAB"
	TypeCloseTab       MessageType = "CLOSE_TAB"
	TypeSetDragState   MessageType = "SET_DRAG_STATE"
	TypeGetDragState   MessageType = "GET_DRAG_STATE"
	TypeClearDragState MessageType = "CLEAR_DRAG_STATE"

	TypeCreateTab       MessageType = "CREATE_TAB"
	TypeMoveNode        MessageType = "MOVE_NODE"
	TypeMoveToNewWindow MessageType = "MOVE_TO_NEW_WINDOW"
	TypePinTab          MessageType = "PIN_TAB"
	TypeUnpinTab        MessageType = "UNPIN_TAB"
	TypeSetExpanded     MessageType = "SET_EXPANDED"
	TypeDragHover       MessageType = "DRAG_HOVER"
	TypeDragHoverEnd    MessageType = "DRAG_HOVER_END"

	TypeCreateView    MessageType = "CREATE_VIEW"
	TypeDeleteView    MessageType = "DELETE_VIEW"
	TypeSwitchView    MessageType = "SWITCH_VIEW"
	TypeMoveTabToView MessageType = "MOVE_TAB_TO_VIEW"

	TypeCreateSnapshot  MessageType = "CREATE_SNAPSHOT"
	TypeListSnapshots   MessageType = "LIST_SNAPSHOTS"
	TypeDeleteSnapshot  MessageType = "DELETE_SNAPSHOT"
	TypeRestoreSnapshot MessageType = "RESTORE_SNAPSHOT"
	TypeExportSnapshot  MessageType = "EXPORT_SNAPSHOT"
	TypeImportSnapshot  MessageType = "IMPORT_SNAPSHOT"
)

// ErrUnknownMessageType is matched by *UnknownMessageTypeError.
var ErrUnknownMessageType = errors.New("unknown message type")

// ErrInvalidRequest marks a request whose parameters are missing or malformed.
var ErrInvalidRequest = errors.New("invalid request")

// UnknownMessageTypeError carries the rejected type. Its message is part of
// the wire contract.
type UnknownMessageTypeError struct {
	Type MessageType
}

func (e *UnknownMessageTypeError) Error() string {
	return "Unknown message type: " + string(e.Type)
}

func (e *UnknownMessageTypeError) Is(target error) bool {
	return target == ErrUnknownMessageType
}

// Response is the reply envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Request is the decoded envelope: the type plus the raw message for the
// handler to decode its own parameters from.
type Request struct {
	Type MessageType     `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

type tabParams struct {
	TabID host.TabID `json:"tabId"`
}

type closeTabParams struct {
	TabID           host.TabID `json:"tabId"`
	WithDescendants bool       `json:"withDescendants"`
}

type setExpandedParams struct {
	TabID    host.TabID `json:"tabId"`
	Expanded bool       `json:"expanded"`
}

type createViewParams struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type viewParams struct {
	ViewID tree.ViewID `json:"viewId"`
}

type switchViewParams struct {
	WindowID host.WindowID `json:"windowId"`
	ViewID   tree.ViewID   `json:"viewId"`
}

type moveTabToViewParams struct {
	TabID  host.TabID  `json:"tabId"`
	ViewID tree.ViewID `json:"viewId"`
}

type snapshotParams struct {
	ID string `json:"id"`
}

type createSnapshotParams struct {
	Name string `json:"name"`
}

type restoreSnapshotParams struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

// importSnapshotParams accepts the export either inline or as a JSON string.
type importSnapshotParams struct {
	Data json.RawMessage `json:"data"`
}

// MoveToNewWindowResult is the MOVE_TO_NEW_WINDOW payload.
type MoveToNewWindowResult struct {
	WindowID host.WindowID `json:"windowId"`
}
