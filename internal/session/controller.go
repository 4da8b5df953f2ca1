// Package session owns the lifecycle of one streamed server computation:
// the request, its cancellation and the projection built from its frames.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ashureev/triage-console/internal/stream"
)

// Status is the lifecycle state of a controller.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
)

var (
	ErrAlreadyStreaming = errors.New("a stream is already active")
	ErrNotIdle          = errors.New("session is done; reset it first")
	ErrStreaming        = errors.New("session is streaming; cancel it first")
	ErrInvalidRequest   = errors.New("invalid start request")
)

// Request is the parameter set a stream is opened with.
type Request interface {
	Validate() error
}

// Opener issues the streaming request and returns the response body.
// A non-2xx response must be reported as an error.
type Opener[R Request] func(ctx context.Context, req R) (io.ReadCloser, error)

// userMessenger is implemented by errors that carry text meant for the
// user, such as the detail of a rejected request.
type userMessenger interface {
	UserMessage() string
}

// Outcome is what applying one frame means for the lifecycle.
type Outcome struct {
	Terminal bool
	Message  string
}

// Projector folds frames into a view of type V. Calls are serialized by
// the controller.
type Projector[R Request, V any] interface {
	// Begin prepares a fresh projection for a new run.
	Begin(req R)
	// Apply folds one frame.
	Apply(f stream.Frame) Outcome
	// Terminate is called when the run ends without a terminal frame
	// (cancellation, transport failure, end of body).
	Terminate(message string)
	// Clear drops the projection on reset.
	Clear()
	// View returns a copy safe to hand to other goroutines.
	View() V
}

// Snapshot is the read-only live view of a controller.
type Snapshot[V any] struct {
	Status                Status `json:"status"`
	Message               string `json:"message,omitempty"`
	CancellationRequested bool   `json:"cancellation_requested"`
	View                  V      `json:"view"`
}

// Messages are the human-readable terminal messages of one controller kind.
type Messages struct {
	Cancelled      string
	ConnectionLost string
	StreamEnded    string
}

// Option configures a Controller.
type Option[R Request, V any] func(*Controller[R, V])

// WithLogger sets the logger.
func WithLogger[R Request, V any](logger *slog.Logger) Option[R, V] {
	return func(c *Controller[R, V]) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithFrameReader swaps the frame grammar.
func WithFrameReader[R Request, V any](fr stream.FrameReader) Option[R, V] {
	return func(c *Controller[R, V]) {
		if fr != nil {
			c.frames = fr
		}
	}
}

// WithOnFinish registers a callback invoked once per run after it reached
// done, with the final snapshot. It runs on the read-loop goroutine.
func WithOnFinish[R Request, V any](fn func(Snapshot[V])) Option[R, V] {
	return func(c *Controller[R, V]) {
		c.onFinish = fn
	}
}

// WithOnStart registers a callback invoked synchronously by a successful
// Start, before the request is issued.
func WithOnStart[R Request, V any](fn func(R)) Option[R, V] {
	return func(c *Controller[R, V]) {
		c.onStart = fn
	}
}

// WithLiveBuffer sets the per-subscriber channel capacity.
func WithLiveBuffer[R Request, V any](n int) Option[R, V] {
	return func(c *Controller[R, V]) {
		if n > 0 {
			c.liveBuffer = n
		}
	}
}

// Controller runs at most one stream at a time and projects its frames.
type Controller[R Request, V any] struct {
	name     string
	open     Opener[R]
	proj     Projector[R, V]
	frames   stream.FrameReader
	messages Messages
	logger   *slog.Logger
	onStart  func(R)
	onFinish func(Snapshot[V])

	mu                    sync.Mutex
	status                Status
	message               string
	cancellationRequested bool
	cancel                context.CancelFunc
	finished              chan struct{}
	// gen identifies the current run; stale read loops compare against it.
	gen uint64

	liveBuffer  int
	subscribers map[int]chan Snapshot[V]
	nextSubID   int
}

// NewController builds an idle controller.
func NewController[R Request, V any](name string, open Opener[R], proj Projector[R, V], messages Messages, opts ...Option[R, V]) *Controller[R, V] {
	c := &Controller[R, V]{
		name:        name,
		open:        open,
		proj:        proj,
		frames:      stream.LineGrammar{},
		messages:    messages,
		logger:      slog.Default(),
		status:      StatusIdle,
		liveBuffer:  16,
		subscribers: make(map[int]chan Snapshot[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("session", name)
	return c
}

// Start opens a stream for req. It is rejected while streaming, after done
// (until Reset) and when req does not validate.
func (c *Controller[R, V]) Start(ctx context.Context, req R) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	c.mu.Lock()
	switch c.status {
	case StatusStreaming:
		c.mu.Unlock()
		return ErrAlreadyStreaming
	case StatusDone:
		c.mu.Unlock()
		return ErrNotIdle
	}

	// The run outlives the caller's request but keeps its values.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.gen++
	gen := c.gen
	c.status = StatusStreaming
	c.message = ""
	c.cancellationRequested = false
	c.cancel = cancel
	c.finished = make(chan struct{})
	finished := c.finished
	c.proj.Begin(req)
	c.publishLocked(c.snapshotLocked())
	c.mu.Unlock()

	c.logger.Info("stream started")
	if c.onStart != nil {
		c.onStart(req)
	}

	go c.run(runCtx, gen, req, finished)
	return nil
}

func (c *Controller[R, V]) run(ctx context.Context, gen uint64, req R, finished chan struct{}) {
	defer close(finished)

	body, err := c.open(ctx, req)
	if err != nil {
		c.fail(gen, err)
		c.finish(gen)
		return
	}
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			c.logger.Debug("failed to close stream body", "error", closeErr)
		}
	}()

	for f, err := range c.frames.Frames(body) {
		if err != nil {
			c.fail(gen, err)
			break
		}
		if !c.apply(gen, f) {
			break
		}
	}

	c.endOfStream(gen)
	c.finish(gen)
}

// apply folds one frame. It returns false when the run must stop reading.
func (c *Controller[R, V]) apply(gen uint64, f stream.Frame) bool {
	c.mu.Lock()
	if gen != c.gen || c.status != StatusStreaming {
		c.mu.Unlock()
		return false
	}
	out := c.proj.Apply(f)
	if out.Terminal {
		c.status = StatusDone
		c.message = out.Message
	}
	c.publishLocked(c.snapshotLocked())
	c.mu.Unlock()

	if out.Terminal {
		c.logger.Info("stream finished", "event", f.Event, "message", out.Message)
		return false
	}
	return true
}

// fail records a transport failure unless the run was already terminated,
// which is how a deliberate cancel wins over the abort it causes.
func (c *Controller[R, V]) fail(gen uint64, err error) {
	message := c.messages.ConnectionLost
	var um userMessenger
	if errors.As(err, &um) && um.UserMessage() != "" {
		message = um.UserMessage()
	}

	c.mu.Lock()
	if gen != c.gen || c.status != StatusStreaming {
		c.mu.Unlock()
		c.logger.Debug("ignoring read failure of terminated stream", "error", err)
		return
	}
	c.status = StatusDone
	c.message = message
	c.proj.Terminate(c.message)
	c.publishLocked(c.snapshotLocked())
	c.mu.Unlock()

	c.logger.Warn("stream failed", "error", err)
}

func (c *Controller[R, V]) endOfStream(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.status != StatusStreaming {
		c.mu.Unlock()
		return
	}
	c.status = StatusDone
	c.message = c.messages.StreamEnded
	c.proj.Terminate(c.message)
	c.publishLocked(c.snapshotLocked())
	c.mu.Unlock()

	c.logger.Info("stream ended without terminal event")
}

func (c *Controller[R, V]) finish(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.onFinish != nil && snap.Status == StatusDone {
		c.onFinish(snap)
	}
}

// Cancel stops the active stream. The terminal state is recorded before the
// transfer is aborted. It reports whether a stream was active.
func (c *Controller[R, V]) Cancel() bool {
	c.mu.Lock()
	if c.status != StatusStreaming {
		c.mu.Unlock()
		return false
	}
	c.status = StatusDone
	c.message = c.messages.Cancelled
	c.cancellationRequested = true
	c.proj.Terminate(c.message)
	cancel := c.cancel
	c.publishLocked(c.snapshotLocked())
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logger.Info("stream cancelled by user")
	return true
}

// Reset returns a done controller to idle and clears its projection.
func (c *Controller[R, V]) Reset() error {
	c.mu.Lock()
	if c.status == StatusStreaming {
		c.mu.Unlock()
		return ErrStreaming
	}
	c.status = StatusIdle
	c.message = ""
	c.cancellationRequested = false
	c.proj.Clear()
	c.publishLocked(c.snapshotLocked())
	c.mu.Unlock()
	return nil
}

// Status returns the lifecycle state.
func (c *Controller[R, V]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns the current live view.
func (c *Controller[R, V]) Snapshot() Snapshot[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller[R, V]) snapshotLocked() Snapshot[V] {
	return Snapshot[V]{
		Status:                c.status,
		Message:               c.message,
		CancellationRequested: c.cancellationRequested,
		View:                  c.proj.View(),
	}
}

// Wait blocks until the read loop of the latest run has exited.
func (c *Controller[R, V]) Wait(ctx context.Context) error {
	c.mu.Lock()
	finished := c.finished
	c.mu.Unlock()
	if finished == nil {
		return nil
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel receiving a snapshot after every state change,
// starting with the current one, and a function that ends the subscription.
// A slow reader only ever misses intermediate snapshots, never the latest.
func (c *Controller[R, V]) Subscribe() (<-chan Snapshot[V], func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Snapshot[V], c.liveBuffer)
	ch <- c.snapshotLocked()
	c.subscribers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (c *Controller[R, V]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

// publishLocked runs under mu so subscribers observe snapshots in the order
// the state changed.
func (c *Controller[R, V]) publishLocked(snap Snapshot[V]) {
	for _, ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
			// Full: drop the oldest so the newest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
