// Package evaluation projects the ground-truth evaluation stream onto
// per-ticket trajectories and per-round rule summaries.
package evaluation

import (
	"log/slog"
	"slices"

	"github.com/ashureev/triage-console/internal/stream"
)

const (
	DefaultDoneMessage  = "Termine"
	DefaultErrorMessage = "Erreur"

	// ThresholdMaxRounds is the round cap the server applies when the loop
	// runs until the target confidence instead of a fixed round count.
	ThresholdMaxRounds = 15
)

// Phase is a step of the reformulate, classify, judge cycle.
type Phase string

const (
	PhaseReformulating Phase = "reformulating"
	PhaseClassifying   Phase = "classifying"
	PhaseEvaluating    Phase = "evaluating"
)

type PhaseStatus string

const (
	PhaseStart PhaseStatus = "start"
	PhaseDone  PhaseStatus = "done"
)

// PhaseState is the live progress indicator. It is never part of a
// trajectory.
type PhaseState struct {
	Phase            Phase       `json:"phase"`
	Status           PhaseStatus `json:"status"`
	Round            int         `json:"round"`
	Detail           string      `json:"detail,omitempty"`
	ClassificationID string      `json:"classification_id,omitempty"`
}

// AxisResult is the category picked on one classification axis.
type AxisResult struct {
	AxisName     string  `json:"axis_name"`
	CategoryName string  `json:"category_name"`
	Confidence   float64 `json:"confidence"`
}

// Trajectory is the round-by-round history of one ticket. Its six series
// always have the same length, the number of rounds seen for the ticket.
type Trajectory struct {
	ClassificationID   string         `json:"classification_id"`
	OriginalText       string         `json:"original_text"`
	OriginalConfidence float64        `json:"original_confidence"`
	Confidences        []float64      `json:"confidences"`
	Reformulations     []string       `json:"reformulations"`
	UsedFallbacks      []bool         `json:"used_fallbacks"`
	Frozen             []bool         `json:"frozen"`
	ResultsPerAxis     [][]AxisResult `json:"results_per_axis"`
	Errors             []*string      `json:"errors"`
}

// Rounds returns the number of rounds recorded for the ticket.
func (t *Trajectory) Rounds() int {
	return len(t.Confidences)
}

// round is one entry of every series of a trajectory.
type round struct {
	confidence    float64
	reformulation string
	usedFallback  bool
	frozen        bool
	axes          []AxisResult
	err           *string
}

// appendRound is the only way a trajectory grows.
func (t *Trajectory) appendRound(r round) {
	t.Confidences = append(t.Confidences, r.confidence)
	t.Reformulations = append(t.Reformulations, r.reformulation)
	t.UsedFallbacks = append(t.UsedFallbacks, r.usedFallback)
	t.Frozen = append(t.Frozen, r.frozen)
	t.ResultsPerAxis = append(t.ResultsPerAxis, r.axes)
	t.Errors = append(t.Errors, r.err)
}

func (t Trajectory) clone() Trajectory {
	out := t
	out.Confidences = slices.Clone(t.Confidences)
	out.Reformulations = slices.Clone(t.Reformulations)
	out.UsedFallbacks = slices.Clone(t.UsedFallbacks)
	out.Frozen = slices.Clone(t.Frozen)
	out.ResultsPerAxis = make([][]AxisResult, len(t.ResultsPerAxis))
	for i, axes := range t.ResultsPerAxis {
		out.ResultsPerAxis[i] = slices.Clone(axes)
	}
	out.Errors = make([]*string, len(t.Errors))
	for i, e := range t.Errors {
		if e != nil {
			msg := *e
			out.Errors[i] = &msg
		}
	}
	return out
}

type RuleChange struct {
	OldRule string `json:"old_rule"`
	NewRule string `json:"new_rule"`
}

// TicketEvaluation is the judge's verdict on one reformulation.
type TicketEvaluation struct {
	ClassificationID   string `json:"classification_id"`
	MeaningPreserved   bool   `json:"meaning_preserved"`
	ConfidenceAnalysis string `json:"confidence_analysis"`
}

// RoundRule summarizes the rule changes of a completed round.
type RoundRule struct {
	Round             int                `json:"round"`
	RulesAdded        []string           `json:"rules_added"`
	RulesRemoved      []string           `json:"rules_removed"`
	RulesModified     []RuleChange       `json:"rules_modified"`
	Diagnosis         string             `json:"diagnosis"`
	TicketEvaluations []TicketEvaluation `json:"ticket_evaluations"`
	AvgConfidence     float64            `json:"avg_confidence,omitempty"`
	AboveThreshold    int                `json:"above_threshold,omitempty"`
	TotalTickets      int                `json:"total_tickets,omitempty"`
	FrozenTickets     int                `json:"frozen_tickets,omitempty"`
}

func (r RoundRule) clone() RoundRule {
	out := r
	out.RulesAdded = slices.Clone(r.RulesAdded)
	out.RulesRemoved = slices.Clone(r.RulesRemoved)
	out.RulesModified = slices.Clone(r.RulesModified)
	out.TicketEvaluations = slices.Clone(r.TicketEvaluations)
	return out
}

// RoundError is a phase failure the server recovered from.
type RoundError struct {
	Round int    `json:"round"`
	Phase string `json:"phase"`
	Error string `json:"error"`
}

// Completion is the closing summary sent with done.
type Completion struct {
	Reason             string  `json:"reason,omitempty"`
	RoundsCompleted    int     `json:"rounds_completed"`
	FinalAvgConfidence float64 `json:"final_avg_confidence"`
	Diagnosis          string  `json:"diagnosis,omitempty"`
}

// Projection is the client-side state of an evaluation run.
type Projection struct {
	Tickets          []Trajectory `json:"tickets"`
	Rounds           []RoundRule  `json:"rounds"`
	AccumulatedRules []string     `json:"accumulated_rules"`
	CurrentRound     int          `json:"current_round"`
	CurrentPhase     *PhaseState  `json:"current_phase"`
	MaxRounds        int          `json:"max_rounds"`
	TargetConfidence float64      `json:"target_confidence"`
	RoundErrors      []RoundError `json:"round_errors,omitempty"`
	Completion       *Completion  `json:"completion,omitempty"`

	logger *slog.Logger
}

// NewProjection returns an empty projection. A nil logger uses the default.
func NewProjection(logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{
		Tickets:          []Trajectory{},
		Rounds:           []RoundRule{},
		AccumulatedRules: []string{},
		logger:           logger,
	}
}

// Ticket returns the trajectory of classificationID, or nil.
func (p *Projection) Ticket(classificationID string) *Trajectory {
	for i := range p.Tickets {
		if p.Tickets[i].ClassificationID == classificationID {
			return &p.Tickets[i]
		}
	}
	return nil
}

// Apply folds one frame into p. It reports whether the frame ends the run
// and the message to show when it does.
func (p *Projection) Apply(f stream.Frame) (terminal bool, message string) {
	v := stream.Decode(f.Payload)

	switch f.Event {
	case EventInit:
		in := parseInit(v)
		p.Tickets = make([]Trajectory, 0, len(in.Tickets))
		for _, seed := range in.Tickets {
			p.Tickets = append(p.Tickets, Trajectory{
				ClassificationID:   seed.ClassificationID,
				OriginalText:       seed.OriginalText,
				OriginalConfidence: seed.OriginalConfidence,
				Confidences:        []float64{},
				Reformulations:     []string{},
				UsedFallbacks:      []bool{},
				Frozen:             []bool{},
				ResultsPerAxis:     [][]AxisResult{},
				Errors:             []*string{},
			})
		}
		if in.MaxRounds > 0 {
			p.MaxRounds = in.MaxRounds
		}
		if v.Has("target_confidence") {
			p.TargetConfidence = in.TargetConfidence
		}

	case EventRoundStart:
		p.CurrentRound = parseRoundStart(v).Round

	case EventPhase:
		phase := parsePhase(v)
		p.CurrentPhase = &phase

	case EventTicketResult:
		r := parseTicketResult(v)
		p.appendRound(r.ClassificationID, r.Round, round{
			confidence:    r.Confidence,
			reformulation: r.ReformulatedText,
			usedFallback:  r.UsedFallback,
			frozen:        r.Frozen,
			axes:          r.ResultsPerAxis,
		})

	case EventTicketError:
		e := parseTicketError(v)
		msg := e.Error
		p.appendRound(e.ClassificationID, e.Round, round{
			axes: []AxisResult{},
			err:  &msg,
		})

	case EventRoundError:
		e := parseRoundError(v)
		p.RoundErrors = append(p.RoundErrors, RoundError(e))

	case EventRoundComplete:
		rc := parseRoundComplete(v)
		p.CurrentPhase = nil
		p.Rounds = append(p.Rounds, rc.Rule)
		p.AccumulatedRules = rc.AccumulatedRules

	case EventDone:
		d := parseDone(v)
		p.CurrentPhase = nil
		p.Completion = d.Summary
		if d.Message == "" {
			return true, DefaultDoneMessage
		}
		return true, d.Message

	case EventError:
		p.CurrentPhase = nil
		return true, v.StringOr("message", DefaultErrorMessage)
	}
	return false, ""
}

// appendRound grows the trajectory of classificationID by one round. The
// round index is the new length; a disagreement with the round announced by
// the server is logged and otherwise ignored.
func (p *Projection) appendRound(classificationID string, sentRound int, r round) {
	t := p.Ticket(classificationID)
	if t == nil {
		p.logger.Debug("ignoring result for unknown ticket", "classification_id", classificationID)
		return
	}
	t.appendRound(r)

	want := sentRound
	if want == 0 {
		want = p.CurrentRound
	}
	if want > 0 && t.Rounds() != want {
		p.logger.Warn("ticket round out of step",
			"classification_id", classificationID,
			"rounds", t.Rounds(),
			"expected_round", want,
		)
	}
}

// Clone returns a deep copy of p sharing nothing mutable.
func (p *Projection) Clone() *Projection {
	out := &Projection{
		CurrentRound:     p.CurrentRound,
		MaxRounds:        p.MaxRounds,
		TargetConfidence: p.TargetConfidence,
		AccumulatedRules: slices.Clone(p.AccumulatedRules),
		RoundErrors:      slices.Clone(p.RoundErrors),
		logger:           p.logger,
	}
	out.Tickets = make([]Trajectory, len(p.Tickets))
	for i, t := range p.Tickets {
		out.Tickets[i] = t.clone()
	}
	out.Rounds = make([]RoundRule, len(p.Rounds))
	for i, r := range p.Rounds {
		out.Rounds[i] = r.clone()
	}
	if p.CurrentPhase != nil {
		phase := *p.CurrentPhase
		out.CurrentPhase = &phase
	}
	if p.Completion != nil {
		c := *p.Completion
		out.Completion = &c
	}
	return out
}
