// Package workspace binds a browser tab to its chat and evaluation sessions.
package workspace

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ashureev/triage-console/internal/backend"
	"github.com/ashureev/triage-console/internal/chat"
	"github.com/ashureev/triage-console/internal/evaluation"
	"github.com/ashureev/triage-console/internal/selection"
	"github.com/ashureev/triage-console/internal/session"
)

// Streamer opens the two streaming endpoints and registers the
// conversations chat turns belong to. *backend.Client implements it.
type Streamer interface {
	OpenChat(ctx context.Context, req backend.ChatRequest) (io.ReadCloser, error)
	OpenEvaluation(ctx context.Context, req backend.EvaluationRequest) (io.ReadCloser, error)
	CreateConversation(ctx context.Context, configID string) (string, error)
}

// EvaluationParams is what the UI submits to start an evaluation. An empty
// config id falls back to the selection.
type EvaluationParams struct {
	ConfigID         string  `json:"config_id,omitempty"`
	TicketCount      int     `json:"ticket_count"`
	MaxRounds        *int    `json:"max_rounds"`
	TargetConfidence float64 `json:"target_confidence"`
}

// Workspace is the state of one browser tab: its selection and one
// controller per stream kind. The two controllers share nothing mutable.
type Workspace struct {
	ID         string
	Selection  *selection.State
	Chat       *chat.Service
	Evaluation *evaluation.Controller

	mu       sync.Mutex
	lastSeen time.Time
}

// StartEvaluation starts an evaluation run, resetting a finished one first.
func (w *Workspace) StartEvaluation(ctx context.Context, in EvaluationParams) (backend.EvaluationRequest, error) {
	req := backend.EvaluationRequest{
		ConfigID:         in.ConfigID,
		TicketCount:      in.TicketCount,
		MaxRounds:        in.MaxRounds,
		TargetConfidence: in.TargetConfidence,
	}
	if req.ConfigID == "" {
		req.ConfigID = w.Selection.Get().ConfigID
	}

	if w.Evaluation.Status() == session.StatusDone {
		if err := w.Evaluation.Reset(); err != nil {
			return req, err
		}
	}
	if err := w.Evaluation.Start(ctx, req); err != nil {
		return req, err
	}
	return req, nil
}

// Streaming reports whether either controller has a stream in flight.
func (w *Workspace) Streaming() bool {
	return w.Chat.Controller().Status() == session.StatusStreaming ||
		w.Evaluation.Status() == session.StatusStreaming
}

// Watched reports whether a live view is subscribed to either controller.
func (w *Workspace) Watched() bool {
	return w.Chat.Controller().Subscribers() > 0 || w.Evaluation.Subscribers() > 0
}

// Cancel stops both streams and reports how many were active.
func (w *Workspace) Cancel() int {
	n := 0
	if w.Chat.Cancel() {
		n++
	}
	if w.Evaluation.Cancel() {
		n++
	}
	return n
}

// Wait blocks until the read loops of both controllers have exited.
func (w *Workspace) Wait(ctx context.Context) error {
	if err := w.Chat.Controller().Wait(ctx); err != nil {
		return err
	}
	return w.Evaluation.Wait(ctx)
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

// LastSeen returns when the workspace was last requested.
func (w *Workspace) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}
