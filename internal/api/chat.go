package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/triage-console/internal/chat"
	"github.com/ashureev/triage-console/internal/session"
)

// ChatState is the chat snapshot plus the stored turns of the selected
// conversation.
type ChatState struct {
	session.Snapshot[chat.View]
	History []chat.Message `json:"history"`
}

// GetChat returns the live chat view.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	ws := h.workspaceFor(r)

	snap := ws.Chat.Snapshot()
	conversationID := ws.Selection.Get().ConversationID
	if snap.View.Request != nil {
		conversationID = snap.View.Request.ConversationID
	}
	history, err := ws.Chat.History(r.Context(), conversationID, h.historyLimit)
	if err != nil {
		h.logger.Error("Failed to load chat history", "error", err, "session_id", ws.ID, "conversation_id", conversationID)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if history == nil {
		history = []chat.Message{}
	}
	JSON(w, http.StatusOK, ChatState{Snapshot: snap, History: history})
}

// StartChat sends one message to the agent.
func (h *Handler) StartChat(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var in chat.SendRequest
	if !decodeBody(w, r, &in) {
		return
	}

	ws := h.workspaceFor(r)
	req, err := ws.Chat.Send(r.Context(), in)
	if err != nil {
		h.logger.Warn("Chat start rejected", "error", err, "session_id", ws.ID)
		startError(w, err)
		return
	}
	h.logger.Info("Chat started", "session_id", ws.ID, "config_id", req.ConfigID, "conversation_id", req.ConversationID)
	JSON(w, http.StatusAccepted, req)
}

// CancelChat stops the active chat turn.
func (h *Handler) CancelChat(w http.ResponseWriter, r *http.Request) {
	ws := h.workspaceFor(r)
	cancelled := ws.Chat.Cancel()
	h.logger.Info("Chat cancel requested", "session_id", ws.ID, "cancelled", cancelled)
	JSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// ResetChat returns the chat session to idle.
func (h *Handler) ResetChat(w http.ResponseWriter, r *http.Request) {
	ws := h.workspaceFor(r)
	if err := ws.Chat.Reset(); err != nil {
		if errors.Is(err, session.ErrStreaming) {
			Error(w, http.StatusConflict, err.Error())
			return
		}
		Error(w, http.StatusInternalServerError, "failed to reset chat")
		return
	}
	JSON(w, http.StatusOK, ws.Chat.Snapshot())
}

// ForgetChat deletes the stored turns of the selected conversation, or of
// the one named by the conversation_id query parameter.
func (h *Handler) ForgetChat(w http.ResponseWriter, r *http.Request) {
	ws := h.workspaceFor(r)
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		conversationID = ws.Selection.Get().ConversationID
	}

	deleted, err := ws.Chat.ForgetConversation(r.Context(), conversationID)
	switch {
	case errors.Is(err, session.ErrStreaming):
		Error(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Error("Failed to delete chat history", "error", err, "session_id", ws.ID, "conversation_id", conversationID)
		Error(w, http.StatusInternalServerError, "failed to delete history")
	default:
		JSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
	}
}

// ChatEvents streams chat snapshots over SSE.
func (h *Handler) ChatEvents(w http.ResponseWriter, r *http.Request) {
	serveSSE[chat.View](h, w, r, h.workspaceFor(r).Chat.Controller())
}

// ChatSocket streams chat snapshots over a WebSocket.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	serveWS[chat.View](h, w, r, h.workspaceFor(r).Chat.Controller())
}
