package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/triage-console/internal/evaluation"
	"github.com/ashureev/triage-console/internal/session"
	"github.com/ashureev/triage-console/internal/workspace"
)

// GetEvaluation returns the live evaluation view.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.workspaceFor(r).Evaluation.Snapshot())
}

// StartEvaluation launches an evaluation run.
func (h *Handler) StartEvaluation(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var in workspace.EvaluationParams
	if !decodeBody(w, r, &in) {
		return
	}

	ws := h.workspaceFor(r)
	req, err := ws.StartEvaluation(r.Context(), in)
	if err != nil {
		h.logger.Warn("Evaluation start rejected", "error", err, "session_id", ws.ID)
		startError(w, err)
		return
	}
	h.logger.Info("Evaluation started",
		"session_id", ws.ID,
		"config_id", req.ConfigID,
		"ticket_count", req.TicketCount,
		"target_confidence", req.TargetConfidence,
	)
	JSON(w, http.StatusAccepted, req)
}

// CancelEvaluation stops the active evaluation.
func (h *Handler) CancelEvaluation(w http.ResponseWriter, r *http.Request) {
	ws := h.workspaceFor(r)
	cancelled := ws.Evaluation.Cancel()
	h.logger.Info("Evaluation cancel requested", "session_id", ws.ID, "cancelled", cancelled)
	JSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// ResetEvaluation returns the evaluation session to idle. Results of the
// last run stay visible until the next start.
func (h *Handler) ResetEvaluation(w http.ResponseWriter, r *http.Request) {
	ws := h.workspaceFor(r)
	if err := ws.Evaluation.Reset(); err != nil {
		if errors.Is(err, session.ErrStreaming) {
			Error(w, http.StatusConflict, err.Error())
			return
		}
		Error(w, http.StatusInternalServerError, "failed to reset evaluation")
		return
	}
	JSON(w, http.StatusOK, ws.Evaluation.Snapshot())
}

// EvaluationEvents streams evaluation snapshots over SSE.
func (h *Handler) EvaluationEvents(w http.ResponseWriter, r *http.Request) {
	serveSSE[evaluation.View](h, w, r, h.workspaceFor(r).Evaluation)
}

// EvaluationSocket streams evaluation snapshots over a WebSocket.
func (h *Handler) EvaluationSocket(w http.ResponseWriter, r *http.Request) {
	serveWS[evaluation.View](h, w, r, h.workspaceFor(r).Evaluation)
}
