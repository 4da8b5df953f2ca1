package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/triage-console/internal/identity"
	"github.com/ashureev/triage-console/internal/session"
	"github.com/ashureev/triage-console/internal/stream"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	snapshotEvent  = "snapshot"
	wsWriteTimeout = 5 * time.Second
)

// liveSource is the part of a controller a live view needs.
type liveSource[V any] interface {
	Subscribe() (<-chan session.Snapshot[V], func())
	Cancel() bool
}

// serveSSE pushes every snapshot of src as an SSE "snapshot" event until the
// client goes away.
func serveSSE[V any](h *Handler, w http.ResponseWriter, r *http.Request, src liveSource[V]) {
	sessionID := identity.SessionIDFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	snaps, unsubscribe := src.Subscribe()
	defer unsubscribe()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	h.logger.Info("Live view connected", "session_id", sessionID, "transport", "sse")
	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("Live view disconnected", "session_id", sessionID, "transport", "sse")
			return
		case snap := <-snaps:
			if err := stream.WriteJSON(w, snapshotEvent, snap); err != nil {
				h.logger.Warn("failed to write SSE snapshot", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := stream.WriteEvent(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		}
	}
}

// wsMessage is a client command on a live WebSocket.
type wsMessage struct {
	Type string `json:"type"`
}

// serveWS pushes every snapshot of src as a JSON text message. The client
// may send {"type":"ping"} or {"type":"cancel"}.
func serveWS[V any](h *Handler, w http.ResponseWriter, r *http.Request, src liveSource[V]) {
	sessionID := identity.SessionIDFromContext(r.Context())

	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	if len(opts.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "live view ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snaps, unsubscribe := src.Subscribe()
	defer unsubscribe()

	h.logger.Info("Live view connected", "session_id", sessionID, "transport", "websocket")
	go func() {
		defer cancel()
		h.readCommands(ctx, ws, src, sessionID)
	}()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Live view disconnected", "session_id", sessionID, "transport", "websocket")
			return
		case snap := <-snaps:
			if err := writeWS(ctx, ws, snap); err != nil {
				h.logger.Debug("WebSocket write error", "error", err, "session_id", sessionID)
				return
			}
		case <-keepalive.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				h.logger.Debug("WebSocket ping failed", "error", err, "session_id", sessionID)
				return
			}
		}
	}
}

func (h *Handler) readCommands(ctx context.Context, ws *websocket.Conn, src interface{ Cancel() bool }, sessionID string) {
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			switch {
			case websocket.CloseStatus(err) != -1, ctx.Err() != nil:
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			default:
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		switch msg.Type {
		case "ping":
			if err := writeWS(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		case "cancel":
			cancelled := src.Cancel()
			h.logger.Info("Stream cancel requested over WebSocket", "session_id", sessionID, "cancelled", cancelled)
		}
	}
}

func writeWS(ctx context.Context, ws *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}
