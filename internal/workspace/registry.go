package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/triage-console/internal/backend"
	"github.com/ashureev/triage-console/internal/chat"
	"github.com/ashureev/triage-console/internal/evaluation"
	"github.com/ashureev/triage-console/internal/selection"
	"github.com/ashureev/triage-console/internal/session"
	"github.com/ashureev/triage-console/internal/store"
)

// Registry holds the workspaces of the process, created on first use.
type Registry struct {
	streamer   Streamer
	repo       store.Repository
	logger     *slog.Logger
	liveBuffer int
	now        func() time.Time

	mu    sync.Mutex
	items map[string]*Workspace
}

// Option configures a Registry.
type Option func(*Registry)

// WithLiveBuffer sets the per-subscriber snapshot buffer of new controllers.
func WithLiveBuffer(n int) Option {
	return func(r *Registry) {
		r.liveBuffer = n
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry. Chat turns are kept in repo.
func NewRegistry(streamer Streamer, repo store.Repository, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		streamer: streamer,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
		items:    make(map[string]*Workspace),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the workspace for id, creating it on first use.
func (r *Registry) Get(id string) *Workspace {
	now := r.now()

	r.mu.Lock()
	w, ok := r.items[id]
	if !ok {
		w = r.newWorkspace(id)
		r.items[id] = w
	}
	r.mu.Unlock()

	w.touch(now)
	if !ok {
		r.logger.Info("Workspace created", "session_id", id)
	}
	return w
}

// Lookup returns the workspace for id without creating or touching it.
func (r *Registry) Lookup(id string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.items[id]
	return w, ok
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Registry) newWorkspace(id string) *Workspace {
	logger := r.logger.With("session_id", id)
	sel := selection.New(selection.Selection{})

	chatOpts := []session.Option[backend.ChatRequest, chat.View]{}
	evalOpts := []session.Option[backend.EvaluationRequest, evaluation.View]{}
	if r.liveBuffer > 0 {
		chatOpts = append(chatOpts, session.WithLiveBuffer[backend.ChatRequest, chat.View](r.liveBuffer))
		evalOpts = append(evalOpts, session.WithLiveBuffer[backend.EvaluationRequest, evaluation.View](r.liveBuffer))
	}

	return &Workspace{
		ID:         id,
		Selection:  sel,
		Chat:       chat.NewService(r.streamer.OpenChat, r.streamer.CreateConversation, r.repo, sel, logger, chatOpts...),
		Evaluation: evaluation.NewController(r.streamer.OpenEvaluation, logger, evalOpts...),
	}
}

// Sweep drops workspaces idle for longer than ttl. A workspace with a
// stream in flight or a connected live view is kept whatever its age.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var expired []string
	for id, w := range r.items {
		if w.LastSeen().Before(cutoff) && !w.Streaming() && !w.Watched() {
			expired = append(expired, id)
			delete(r.items, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.logger.Info("Workspace expired", "session_id", id)
	}
	return len(expired)
}

// CancelAll stops every active stream and reports how many were active.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	all := make([]*Workspace, 0, len(r.items))
	for _, w := range r.items {
		all = append(all, w)
	}
	r.mu.Unlock()

	n := 0
	for _, w := range all {
		n += w.Cancel()
	}
	return n
}

// Wait blocks until every read loop has exited or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Workspace, 0, len(r.items))
	for _, w := range r.items {
		all = append(all, w)
	}
	r.mu.Unlock()

	for _, w := range all {
		if err := w.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
