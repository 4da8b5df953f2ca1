// Package chat projects the agent chat stream onto a single evolving
// assistant message.
package chat

import (
	"strings"

	"github.com/ashureev/triage-console/internal/stream"
)

const (
	// FailureMarker prefixes the summary the agent reports for a failed
	// tool invocation ("Echec de <tool>: <cause>").
	FailureMarker = "Echec"

	DefaultErrorMessage = "Erreur"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StepStatus tracks a tool invocation.
type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepError   StepStatus = "error"
)

// Step is one tool invocation of the agent during a turn.
type Step struct {
	Tool    string     `json:"tool"`
	Label   string     `json:"label"`
	Status  StepStatus `json:"status"`
	Summary *string    `json:"summary"`
}

// Message is one chat turn.
type Message struct {
	ID           string       `json:"id"`
	Role         Role         `json:"role"`
	Content      string       `json:"content"`
	Steps        []Step       `json:"steps"`
	Data         stream.Value `json:"data"`
	LearningCard LearningCard `json:"learning_card"`
	Finalized    bool         `json:"finalized"`
}

// Apply folds one frame into m. It reports whether the frame ends the turn
// and, for an error event, the message to surface.
func (m *Message) Apply(f stream.Frame) (terminal bool, errMessage string) {
	v := stream.Decode(f.Payload)

	switch f.Event {
	case EventDelta:
		m.Content += parseDelta(v).Content

	case EventThinking:
		m.Content = ""

	case EventStep:
		p := parseStep(v)
		m.Steps = append(m.Steps, Step{
			Tool:   p.Tool,
			Label:  p.Message,
			Status: StepRunning,
		})

	case EventStepResult:
		m.resolveStep(parseStepResult(v))

	case EventLearning:
		m.LearningCard = LearningCard(v)

	case EventToolData:
		if p := parseToolData(v); p.Result != nil {
			m.Data = m.Data.Merge(p.Result)
		}

	case EventDone:
		for i := range m.Steps {
			if m.Steps[i].Status == StepRunning {
				m.Steps[i].Status = StepDone
			}
		}
		m.Finalized = true
		return true, ""

	case EventError:
		msg := parseError(v).Message
		if msg == "" {
			msg = DefaultErrorMessage
		}
		m.Content = msg
		m.Finalized = true
		return true, msg
	}
	return false, ""
}

// resolveStep binds a result to the last step of the same tool. A result
// for a tool with no step is dropped.
func (m *Message) resolveStep(p StepResultPayload) {
	for i := len(m.Steps) - 1; i >= 0; i-- {
		if m.Steps[i].Tool != p.Tool {
			continue
		}
		status := StepDone
		if strings.HasPrefix(p.Summary, FailureMarker) {
			status = StepError
		}
		summary := p.Summary
		m.Steps[i].Status = status
		m.Steps[i].Summary = &summary
		return
	}
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.Steps != nil {
		out.Steps = make([]Step, len(m.Steps))
		for i, s := range m.Steps {
			if s.Summary != nil {
				summary := *s.Summary
				s.Summary = &summary
			}
			out.Steps[i] = s
		}
	}
	out.Data = m.Data.Clone()
	out.LearningCard = LearningCard(stream.Value(m.LearningCard).Clone())
	return &out
}
