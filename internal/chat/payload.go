package chat

import "github.com/ashureev/triage-console/internal/stream"

// Chat stream event types.
const (
	EventDelta      = "delta"
	EventThinking   = "thinking"
	EventStep       = "step"
	EventStepResult = "step_result"
	EventLearning   = "learning"
	EventToolData   = "tool_data"
	EventDone       = "done"
	EventError      = "error"
)

// DeltaPayload carries a content fragment. Content defaults to "".
type DeltaPayload struct {
	Content string
}

// StepPayload announces a tool invocation.
type StepPayload struct {
	Tool    string
	Message string
}

// StepResultPayload resolves the latest invocation of Tool.
type StepResultPayload struct {
	Tool    string
	Summary string
}

// ToolDataPayload carries structured tool output. Result is nil when absent.
type ToolDataPayload struct {
	Result stream.Value
}

// ErrorPayload carries a server-signaled failure. Message defaults to "".
type ErrorPayload struct {
	Message string
}

// LearningCard is the rule-learning annotation of a turn, kept as sent.
type LearningCard stream.Value

// Level returns the annotation for level n (1 to 3), or nil.
func (lc LearningCard) Level(n int) any {
	switch n {
	case 1:
		return lc["level_1"]
	case 2:
		return lc["level_2"]
	case 3:
		return lc["level_3"]
	default:
		return nil
	}
}

func parseDelta(v stream.Value) DeltaPayload {
	return DeltaPayload{Content: v.String("content")}
}

func parseStep(v stream.Value) StepPayload {
	return StepPayload{Tool: v.String("tool"), Message: v.String("message")}
}

func parseStepResult(v stream.Value) StepResultPayload {
	return StepResultPayload{Tool: v.String("tool"), Summary: v.String("summary")}
}

func parseToolData(v stream.Value) ToolDataPayload {
	return ToolDataPayload{Result: v.Object("result")}
}

func parseError(v stream.Value) ErrorPayload {
	return ErrorPayload{Message: v.String("message")}
}
