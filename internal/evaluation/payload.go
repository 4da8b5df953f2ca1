package evaluation

import "github.com/ashureev/triage-console/internal/stream"

// Evaluation stream event types.
const (
	EventInit          = "init"
	EventRoundStart    = "round_start"
	EventPhase         = "phase"
	EventTicketResult  = "ticket_result"
	EventTicketError   = "ticket_error"
	EventRoundError    = "round_error"
	EventRoundComplete = "round_complete"
	EventDone          = "done"
	EventError         = "error"
)

// TicketSeed is one ticket announced by init.
type TicketSeed struct {
	ClassificationID   string
	OriginalText       string
	OriginalConfidence float64
}

// InitPayload opens the loop. MaxRounds is 0 when not sent.
type InitPayload struct {
	Tickets          []TicketSeed
	MaxRounds        int
	TargetConfidence float64
}

type RoundStartPayload struct {
	Round int
}

// TicketResultPayload is one classified ticket of a round. Round is only
// used to cross-check the implicit index.
type TicketResultPayload struct {
	ClassificationID string
	Round            int
	Confidence       float64
	ReformulatedText string
	UsedFallback     bool
	Frozen           bool
	ResultsPerAxis   []AxisResult
}

type TicketErrorPayload struct {
	ClassificationID string
	Round            int
	Error            string
}

// RoundErrorPayload reports a failed pipeline phase; the round goes on.
type RoundErrorPayload struct {
	Round int
	Phase string
	Error string
}

// RoundCompletePayload closes a round. Absent lists decode as empty.
type RoundCompletePayload struct {
	Rule             RoundRule
	AccumulatedRules []string
}

// DonePayload ends the loop. Message is "" when not sent.
type DonePayload struct {
	Message string
	Summary *Completion
}

func parseInit(v stream.Value) InitPayload {
	p := InitPayload{
		MaxRounds:        v.Int("max_rounds"),
		TargetConfidence: v.Float("target_confidence"),
	}
	for _, t := range v.Objects("tickets") {
		p.Tickets = append(p.Tickets, TicketSeed{
			ClassificationID:   t.String("classification_id"),
			OriginalText:       t.String("original_text"),
			OriginalConfidence: t.Float("original_confidence"),
		})
	}
	return p
}

func parseRoundStart(v stream.Value) RoundStartPayload {
	return RoundStartPayload{Round: v.Int("round")}
}

func parsePhase(v stream.Value) PhaseState {
	return PhaseState{
		Phase:            Phase(v.String("phase")),
		Status:           PhaseStatus(v.String("status")),
		Round:            v.Int("round"),
		Detail:           v.String("detail"),
		ClassificationID: v.String("classification_id"),
	}
}

func parseTicketResult(v stream.Value) TicketResultPayload {
	p := TicketResultPayload{
		ClassificationID: v.String("classification_id"),
		Round:            v.Int("round"),
		Confidence:       v.Float("confidence"),
		ReformulatedText: v.String("reformulated_text"),
		UsedFallback:     v.Bool("used_fallback"),
		Frozen:           v.Bool("frozen"),
		ResultsPerAxis:   []AxisResult{},
	}
	for _, a := range v.Objects("results_per_axis") {
		p.ResultsPerAxis = append(p.ResultsPerAxis, AxisResult{
			AxisName:     a.String("axis_name"),
			CategoryName: a.String("category_name"),
			Confidence:   a.Float("confidence"),
		})
	}
	return p
}

func parseTicketError(v stream.Value) TicketErrorPayload {
	return TicketErrorPayload{
		ClassificationID: v.String("classification_id"),
		Round:            v.Int("round"),
		Error:            v.String("error"),
	}
}

func parseRoundError(v stream.Value) RoundErrorPayload {
	return RoundErrorPayload{
		Round: v.Int("round"),
		Phase: v.String("phase"),
		Error: v.String("error"),
	}
}

func parseRoundComplete(v stream.Value) RoundCompletePayload {
	rule := RoundRule{
		Round:             v.Int("round"),
		RulesAdded:        nonNil(v.Strings("rules_added")),
		RulesRemoved:      nonNil(v.Strings("rules_removed")),
		RulesModified:     []RuleChange{},
		Diagnosis:         v.String("diagnosis"),
		TicketEvaluations: []TicketEvaluation{},
		AvgConfidence:     v.Float("avg_confidence"),
		AboveThreshold:    v.Int("above_threshold"),
		TotalTickets:      v.Int("total_tickets"),
		FrozenTickets:     v.Int("frozen_tickets"),
	}
	for _, m := range v.Objects("rules_modified") {
		rule.RulesModified = append(rule.RulesModified, RuleChange{
			OldRule: m.String("old_rule"),
			NewRule: m.String("new_rule"),
		})
	}
	for _, e := range v.Objects("ticket_evaluations") {
		rule.TicketEvaluations = append(rule.TicketEvaluations, TicketEvaluation{
			ClassificationID:   e.String("classification_id"),
			MeaningPreserved:   e.Bool("meaning_preserved"),
			ConfidenceAnalysis: e.String("confidence_analysis"),
		})
	}
	return RoundCompletePayload{
		Rule:             rule,
		AccumulatedRules: nonNil(v.Strings("accumulated_rules")),
	}
}

func parseDone(v stream.Value) DonePayload {
	p := DonePayload{Message: v.String("message")}
	if v.Has("reason") || v.Has("rounds_completed") {
		p.Summary = &Completion{
			Reason:             v.String("reason"),
			RoundsCompleted:    v.Int("rounds_completed"),
			FinalAvgConfidence: v.Float("final_avg_confidence"),
			Diagnosis:          v.String("diagnosis"),
		}
	}
	return p
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
