// Package api provides the HTTP transport for the tab tree engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/pubsub"
	"github.com/zjrosen/tabtree/internal/rpc"
)

// maxRequestBytes bounds request bodies. Imports carry whole snapshots.
const maxRequestBytes = 8 << 20

// heartbeatInterval keeps idle event streams open through proxies.
var heartbeatInterval = 30 * time.Second

// RPCServer serves one raw request. The dispatcher satisfies it directly;
// the app routes through the command processor instead.
type RPCServer interface {
	Dispatch(ctx context.Context, payload []byte) rpc.Response
}

// StateSource is the broadcast side of the engine.
type StateSource interface {
	Subscribe(ctx context.Context) <-chan pubsub.Event[pubsub.StateUpdate]
	Ready() <-chan struct{}
}

// Simulator is a host that can also be driven from outside, like a user
// clicking in the browser. Only the in-memory host implements it.
type Simulator interface {
	host.Provider
	OpenWindow(urls ...string) host.WindowID
	CloseWindow(id host.WindowID) error
}

// HandlerConfig configures a Handler. Simulator may be nil.
type HandlerConfig struct {
	RPC       RPCServer
	State     StateSource
	Simulator Simulator
}

// Handler provides HTTP handlers for the engine.
type Handler struct {
	rpc   RPCServer
	state StateSource
	sim   Simulator

	closing   chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{rpc: cfg.RPC, state: cfg.State, sim: cfg.Simulator, closing: make(chan struct{})}
}

// Close ends every open /events stream. Server.Stop calls it so a graceful
// shutdown does not wait on long-lived streams.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Routes returns an http.Handler with all routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /rpc", h.RPC)
	mux.HandleFunc("GET /events", h.StreamState)
	mux.HandleFunc("GET /health", h.Health)

	if h.sim != nil {
		mux.HandleFunc("GET /host/windows", h.ListWindows)
		mux.HandleFunc("POST /host/windows", h.OpenWindow)
		mux.HandleFunc("DELETE /host/windows/{id}", h.CloseWindow)
		mux.HandleFunc("POST /host/tabs", h.CreateHostTab)
		mux.HandleFunc("PATCH /host/tabs/{id}", h.UpdateHostTab)
		mux.HandleFunc("POST /host/tabs/{id}/move", h.MoveHostTab)
		mux.HandleFunc("DELETE /host/tabs/{id}", h.RemoveHostTab)
	}

	return mux
}

// ErrorResponse is the JSON body for transport-level errors. RPC failures
// are not transport errors; they come back as 200 with success=false.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Initialized bool   `json:"initialized"`
	Simulated   bool   `json:"simulated"`
}

// RPC handles POST /rpc. The body is one request envelope.
func (h *Handler) RPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large", err.Error())
		return
	}
	if len(body) == 0 {
		h.writeError(w, http.StatusBadRequest, "empty_body", "Request body is required", "")
		return
	}

	resp := h.rpc.Dispatch(r.Context(), body)
	h.writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Simulated: h.sim != nil}
	select {
	case <-h.state.Ready():
		resp.Initialized = true
	default:
		resp.Status = "starting"
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// StreamState handles GET /events as a Server-Sent Events stream of
// STATE_UPDATED broadcasts.
func (h *Handler) StreamState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return
	}

	ctx := r.Context()
	events := h.state.Subscribe(ctx)

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(map[string]any{
				"type":      string(event.Type),
				"revision":  event.Payload.Revision,
				"timestamp": event.Timestamp,
			})
			if err != nil {
				log.Error(log.CatAPI, "Failed to marshal event", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// OpenWindowRequest is the body for POST /host/windows.
type OpenWindowRequest struct {
	URLs []string `json:"urls"`
}

// OpenWindowResponse is returned by POST /host/windows.
type OpenWindowResponse struct {
	WindowID host.WindowID `json:"windowId"`
}

// CreateTabRequest is the body for POST /host/tabs. It simulates the user
// opening a tab, so the engine sees a plain created event.
type CreateTabRequest struct {
	WindowID    host.WindowID `json:"windowId"`
	URL         string        `json:"url"`
	Title       string        `json:"title,omitempty"`
	Index       *int          `json:"index,omitempty"`
	Active      bool          `json:"active,omitempty"`
	Pinned      bool          `json:"pinned,omitempty"`
	OpenerTabID host.TabID    `json:"openerTabId,omitempty"`
}

// UpdateTabRequest is the body for PATCH /host/tabs/{id}.
type UpdateTabRequest struct {
	URL    *string `json:"url,omitempty"`
	Title  *string `json:"title,omitempty"`
	Active *bool   `json:"active,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
	Status *string `json:"status,omitempty"`
}

// MoveTabRequest is the body for POST /host/tabs/{id}/move. A missing
// index appends.
type MoveTabRequest struct {
	WindowID host.WindowID `json:"windowId,omitempty"`
	Index    *int          `json:"index,omitempty"`
}

// ListWindows handles GET /host/windows.
func (h *Handler) ListWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := h.sim.QueryWindows(r.Context())
	if err != nil {
		h.writeHostError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, windows)
}

// OpenWindow handles POST /host/windows.
func (h *Handler) OpenWindow(w http.ResponseWriter, r *http.Request) {
	var req OpenWindowRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.URLs) == 0 {
		h.writeError(w, http.StatusBadRequest, "missing_urls", "At least one url is required", "")
		return
	}
	id := h.sim.OpenWindow(req.URLs...)
	h.writeJSON(w, http.StatusCreated, OpenWindowResponse{WindowID: id})
}

// CloseWindow handles DELETE /host/windows/{id}.
func (h *Handler) CloseWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.sim.CloseWindow(host.WindowID(id)); err != nil {
		h.writeHostError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateHostTab handles POST /host/tabs.
func (h *Handler) CreateHostTab(w http.ResponseWriter, r *http.Request) {
	var req CreateTabRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "missing_url", "url is required", "")
		return
	}
	tab, err := h.sim.CreateTab(r.Context(), host.CreateProperties{
		WindowID: req.WindowID,
		URL:      req.URL,
		Title:    req.Title,
		Index:    req.Index,
		Active:   req.Active,
		Pinned:   req.Pinned,
		OpenerID: req.OpenerTabID,
	})
	if err != nil {
		h.writeHostError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tab)
}

// UpdateHostTab handles PATCH /host/tabs/{id}.
func (h *Handler) UpdateHostTab(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req UpdateTabRequest
	if !h.decode(w, r, &req) {
		return
	}
	tab, err := h.sim.UpdateTab(r.Context(), host.TabID(id), host.UpdateProperties{
		URL:    req.URL,
		Title:  req.Title,
		Active: req.Active,
		Pinned: req.Pinned,
		Status: req.Status,
	})
	if err != nil {
		h.writeHostError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tab)
}

// MoveHostTab handles POST /host/tabs/{id}/move.
func (h *Handler) MoveHostTab(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req MoveTabRequest
	if !h.decode(w, r, &req) {
		return
	}
	props := host.MoveProperties{WindowID: req.WindowID, Index: -1}
	if req.Index != nil {
		props.Index = *req.Index
	}
	tab, err := h.sim.MoveTab(r.Context(), host.TabID(id), props)
	if err != nil {
		h.writeHostError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tab)
}

// RemoveHostTab handles DELETE /host/tabs/{id}.
func (h *Handler) RemoveHostTab(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.sim.RemoveTabs(r.Context(), host.TabID(id)); err != nil {
		h.writeHostError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON in request body", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.PathValue("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "Invalid id", raw)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeHostError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, host.ErrTabNotFound), errors.Is(err, host.ErrWindowNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Not found", err.Error())
	default:
		log.ErrorErr(log.CatAPI, "Host call failed", err)
		h.writeError(w, http.StatusInternalServerError, "host_error", "Host call failed", err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
