package chat

import (
	"log/slog"

	"github.com/ashureev/triage-console/internal/backend"
	"github.com/ashureev/triage-console/internal/session"
	"github.com/ashureev/triage-console/internal/stream"
	"github.com/google/uuid"
)

// CompletedMessage is the status message of a turn ended by a done event.
const CompletedMessage = "Réponse terminée."

// TerminalMessages are the status messages of a chat session.
var TerminalMessages = session.Messages{
	Cancelled:      "Réponse interrompue par l'utilisateur.",
	ConnectionLost: "Connexion au serveur perdue.",
	StreamEnded:    "Le flux s'est arrêté avant la fin de la réponse.",
}

// View is the live state of a chat session.
type View struct {
	Request *backend.ChatRequest `json:"request,omitempty"`
	Message *Message             `json:"message,omitempty"`
}

// Projector folds the chat stream into the assistant message of the turn.
type Projector struct {
	logger  *slog.Logger
	request *backend.ChatRequest
	message *Message
}

// NewProjector creates an empty chat projector.
func NewProjector(logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{logger: logger}
}

// Begin starts a new assistant message for req.
func (p *Projector) Begin(req backend.ChatRequest) {
	p.request = &req
	p.message = &Message{
		ID:   uuid.NewString(),
		Role: RoleAssistant,
	}
}

// Apply implements session.Projector.
func (p *Projector) Apply(f stream.Frame) session.Outcome {
	if p.message == nil {
		return session.Outcome{}
	}
	terminal, msg := p.message.Apply(f)
	switch f.Event {
	case EventDone:
		msg = CompletedMessage
	case EventError:
		p.logger.Warn("chat stream reported an error", "message", msg)
	case EventDelta, EventThinking, EventStep, EventStepResult, EventLearning, EventToolData:
	default:
		p.logger.Debug("ignoring unknown chat event", "event", f.Event)
	}
	return session.Outcome{Terminal: terminal, Message: msg}
}

// Terminate finalizes the message as it stands.
func (p *Projector) Terminate(string) {
	if p.message != nil {
		p.message.Finalized = true
	}
}

// Clear drops the live message.
func (p *Projector) Clear() {
	p.request = nil
	p.message = nil
}

// View implements session.Projector.
func (p *Projector) View() View {
	v := View{Message: p.message.Clone()}
	if p.request != nil {
		req := *p.request
		v.Request = &req
	}
	return v
}

// Controller is the session controller of a chat.
type Controller = session.Controller[backend.ChatRequest, View]

// NewController wires a chat projector to open.
func NewController(open session.Opener[backend.ChatRequest], logger *slog.Logger, opts ...session.Option[backend.ChatRequest, View]) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]session.Option[backend.ChatRequest, View]{
		session.WithLogger[backend.ChatRequest, View](logger),
	}, opts...)
	return session.NewController[backend.ChatRequest, View]("chat", open, NewProjector(logger), TerminalMessages, opts...)
}
