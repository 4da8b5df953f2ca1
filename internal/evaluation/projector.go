package evaluation

import (
	"log/slog"

	"github.com/ashureev/triage-console/internal/backend"
	"github.com/ashureev/triage-console/internal/session"
	"github.com/ashureev/triage-console/internal/stream"
)

// TerminalMessages are the status messages of an evaluation session.
var TerminalMessages = session.Messages{
	Cancelled:      "Arrete par l'utilisateur",
	ConnectionLost: "Connexion perdue",
	StreamEnded:    "Flux interrompu avant la fin de l'evaluation",
}

// View is the live state of an evaluation session.
type View struct {
	Request *backend.EvaluationRequest `json:"request,omitempty"`
	*Projection
}

// Projector folds the evaluation stream into a Projection.
type Projector struct {
	logger  *slog.Logger
	request *backend.EvaluationRequest
	proj    *Projection
}

// NewProjector creates an empty evaluation projector.
func NewProjector(logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{logger: logger, proj: NewProjection(logger)}
}

// Begin drops the previous run and prepares a projection for req.
func (p *Projector) Begin(req backend.EvaluationRequest) {
	p.request = &req
	p.proj = NewProjection(p.logger)
	p.proj.MaxRounds = ThresholdMaxRounds
	if req.MaxRounds != nil {
		p.proj.MaxRounds = *req.MaxRounds
	}
	p.proj.TargetConfidence = req.TargetConfidence
}

// Apply implements session.Projector.
func (p *Projector) Apply(f stream.Frame) session.Outcome {
	terminal, msg := p.proj.Apply(f)
	switch f.Event {
	case EventError:
		p.logger.Warn("evaluation stream reported an error", "message", msg)
	case EventRoundError:
		p.logger.Warn("evaluation round phase failed", "payload", f.Payload)
	case EventInit, EventRoundStart, EventPhase, EventTicketResult, EventTicketError, EventRoundComplete, EventDone:
	default:
		p.logger.Debug("ignoring unknown evaluation event", "event", f.Event)
	}
	return session.Outcome{Terminal: terminal, Message: msg}
}

// Terminate clears the live phase; trajectories stay as received.
func (p *Projector) Terminate(string) {
	p.proj.CurrentPhase = nil
}

// Clear only drops the live phase so the last results stay visible until
// the next run begins.
func (p *Projector) Clear() {
	p.proj.CurrentPhase = nil
}

// View implements session.Projector.
func (p *Projector) View() View {
	v := View{Projection: p.proj.Clone()}
	if p.request != nil {
		req := *p.request
		if req.MaxRounds != nil {
			n := *req.MaxRounds
			req.MaxRounds = &n
		}
		v.Request = &req
	}
	return v
}

// Controller is the session controller of an evaluation.
type Controller = session.Controller[backend.EvaluationRequest, View]

// NewController wires an evaluation projector to open.
func NewController(open session.Opener[backend.EvaluationRequest], logger *slog.Logger, opts ...session.Option[backend.EvaluationRequest, View]) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]session.Option[backend.EvaluationRequest, View]{
		session.WithLogger[backend.EvaluationRequest, View](logger),
	}, opts...)
	return session.NewController[backend.EvaluationRequest, View]("evaluation", open, NewProjector(logger), TerminalMessages, opts...)
}
