package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/triage-console/internal/selection"
)

// GetSelection returns the workspace's active configuration.
func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.workspaceFor(r).Selection.Get())
}

// PutSelection replaces the workspace's active configuration. Running
// streams keep the selection they started with.
func (h *Handler) PutSelection(w http.ResponseWriter, r *http.Request) {
	var sel selection.Selection
	if !decodeBody(w, r, &sel) {
		return
	}
	sel.ConfigID = strings.TrimSpace(sel.ConfigID)
	sel.ConversationID = strings.TrimSpace(sel.ConversationID)

	ws := h.workspaceFor(r)
	ws.Selection.Set(sel)
	h.logger.Info("Selection updated", "session_id", ws.ID, "config_id", sel.ConfigID, "conversation_id", sel.ConversationID)
	JSON(w, http.StatusOK, sel)
}
