package chat

import (
	"strings"
	"testing"

	"github.com/ashureev/triage-console/internal/stream"
	"github.com/google/go-cmp/cmp"
)

func applyAll(m *Message, frames ...stream.Frame) (terminal bool, msg string) {
	for _, f := range frames {
		if terminal, msg = m.Apply(f); terminal {
			return terminal, msg
		}
	}
	return false, ""
}

func frame(event, payload string) stream.Frame {
	return stream.Frame{Event: event, Payload: payload}
}

func strPtr(s string) *string { return &s }

func TestMessageHappyPath(t *testing.T) {
	t.Parallel()

	m := &Message{Role: RoleAssistant}
	terminal, msg := applyAll(m,
		frame(EventStep, `{"tool":"search_tickets","message":"Recherche..."}`),
		frame(EventStepResult, `{"tool":"search_tickets","summary":"3 résultats trouvés"}`),
		frame(EventDelta, `{"content":"Voici "}`),
		frame(EventDelta, `{"content":"les résultats."}`),
		frame(EventDone, `{}`),
	)
	if !terminal || msg != "" {
		t.Fatalf("terminal = %v, msg = %q", terminal, msg)
	}

	want := []Step{{
		Tool:    "search_tickets",
		Label:   "Recherche...",
		Status:  StepDone,
		Summary: strPtr("3 résultats trouvés"),
	}}
	if m.Content != "Voici les résultats." {
		t.Errorf("content = %q", m.Content)
	}
	if diff := cmp.Diff(want, m.Steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	if !m.Finalized {
		t.Error("message not finalized")
	}
}

func TestMessageContentIsConcatenationOfDeltas(t *testing.T) {
	t.Parallel()

	parts := []string{"Le ", "ticket ", "", "42 ", "est ", "classé."}
	m := &Message{}
	for _, p := range parts {
		m.Apply(frame(EventDelta, `{"content":"`+p+`"}`))
	}
	if want := strings.Join(parts, ""); m.Content != want {
		t.Fatalf("content = %q, want %q", m.Content, want)
	}

	m.Apply(frame(EventThinking, `{}`))
	if m.Content != "" {
		t.Fatalf("thinking must reset content, got %q", m.Content)
	}
	m.Apply(frame(EventDelta, `{"content":"Réponse"}`))
	if m.Content != "Réponse" {
		t.Fatalf("content after thinking = %q", m.Content)
	}
}

func TestMessageNumericDeltaIsCoerced(t *testing.T) {
	t.Parallel()

	m := &Message{}
	m.Apply(frame(EventDelta, `{"content":42}`))
	if m.Content != "42" {
		t.Fatalf("content = %q, want 42", m.Content)
	}
}

func TestMessageMalformedPayload(t *testing.T) {
	t.Parallel()

	m := &Message{Content: "avant"}
	terminal, _ := m.Apply(frame(EventDelta, "not-json"))
	if terminal {
		t.Fatal("malformed delta must not end the turn")
	}
	if m.Content != "avant" {
		t.Fatalf("content = %q, want unchanged", m.Content)
	}
}

func TestStepResultBindsToLastMatchingStep(t *testing.T) {
	t.Parallel()

	m := &Message{}
	applyAll(m,
		frame(EventStep, `{"tool":"A","message":"first"}`),
		frame(EventStep, `{"tool":"B","message":"second"}`),
		frame(EventStep, `{"tool":"A","message":"third"}`),
		frame(EventStepResult, `{"tool":"A","summary":"ok"}`),
	)

	got := []StepStatus{m.Steps[0].Status, m.Steps[1].Status, m.Steps[2].Status}
	if diff := cmp.Diff([]StepStatus{StepRunning, StepRunning, StepDone}, got); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}
	if m.Steps[0].Summary != nil || m.Steps[2].Summary == nil || *m.Steps[2].Summary != "ok" {
		t.Fatalf("summary bound to wrong step: %+v", m.Steps)
	}

	m.Apply(frame(EventStepResult, `{"tool":"A","summary":"again"}`))
	if *m.Steps[2].Summary != "again" || m.Steps[0].Status != StepRunning {
		t.Fatalf("second result must rebind the last A step, got %+v", m.Steps)
	}
}

func TestStepResultFailureAndUnknownTool(t *testing.T) {
	t.Parallel()

	m := &Message{}
	applyAll(m,
		frame(EventStep, `{"tool":"search_tickets","message":"Recherche..."}`),
		frame(EventStepResult, `{"tool":"search_tickets","summary":"Echec de search_tickets: timeout"}`),
		frame(EventStep, `{"tool":"classify","message":"Classification"}`),
		frame(EventStepResult, `{"tool":"classify","summary":"Erreur de saisie corrigée"}`),
		frame(EventStepResult, `{"tool":"missing","summary":"ignored"}`),
	)
	if len(m.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(m.Steps))
	}
	if m.Steps[0].Status != StepError || *m.Steps[0].Summary != "Echec de search_tickets: timeout" {
		t.Fatalf("failed tool call = %+v, want error", m.Steps[0])
	}
	if m.Steps[1].Status != StepDone {
		t.Fatalf("status = %s, want done for a summary without the failure prefix", m.Steps[1].Status)
	}
}

func TestDoneCompletesRunningSteps(t *testing.T) {
	t.Parallel()

	m := &Message{}
	applyAll(m,
		frame(EventStep, `{"tool":"a","message":"a"}`),
		frame(EventStep, `{"tool":"b","message":"b"}`),
		frame(EventStepResult, `{"tool":"a","summary":"Echec de a: boom"}`),
		frame(EventDone, `{}`),
	)
	if m.Steps[0].Status != StepError || m.Steps[1].Status != StepDone {
		t.Fatalf("steps = %+v", m.Steps)
	}
	if m.Steps[1].Summary != nil {
		t.Fatal("done must leave the summary unchanged")
	}
}

func TestToolDataAndLearning(t *testing.T) {
	t.Parallel()

	m := &Message{}
	applyAll(m,
		frame(EventToolData, `{"result":{"tickets":3,"axis":"urgence"}}`),
		frame(EventToolData, `{"result":{"tickets":5}}`),
		frame(EventToolData, `{"other":true}`),
		frame(EventLearning, `{"level_1":"règle","level_2":"détail"}`),
		frame(EventLearning, `{"level_3":"exemple"}`),
	)

	want := stream.Value{"tickets": float64(5), "axis": "urgence"}
	if diff := cmp.Diff(want, m.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if m.LearningCard.Level(1) != nil || m.LearningCard.Level(3) != "exemple" {
		t.Errorf("learning card must be replaced wholesale, got %v", m.LearningCard)
	}
	if m.LearningCard.Level(4) != nil {
		t.Error("unknown level must be nil")
	}
}

func TestErrorEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "server message", payload: `{"message":"Configuration introuvable"}`, want: "Configuration introuvable"},
		{name: "empty object", payload: `{}`, want: "Erreur"},
		{name: "plain text", payload: `panne du modèle`, want: "panne du modèle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := &Message{Content: "partiel"}
			terminal, msg := m.Apply(frame(EventError, tt.payload))
			if !terminal || msg != tt.want || m.Content != tt.want || !m.Finalized {
				t.Fatalf("terminal=%v msg=%q content=%q finalized=%v", terminal, msg, m.Content, m.Finalized)
			}
		})
	}
}

func TestUnknownEventIsNoop(t *testing.T) {
	t.Parallel()

	m := &Message{Content: "x"}
	before := m.Clone()
	if terminal, _ := m.Apply(frame("heartbeat", `{"content":"y"}`)); terminal {
		t.Fatal("unknown event must not end the turn")
	}
	if diff := cmp.Diff(before, m); diff != "" {
		t.Fatalf("message changed (-before +after):\n%s", diff)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	m := &Message{}
	applyAll(m,
		frame(EventStep, `{"tool":"a","message":"a"}`),
		frame(EventStepResult, `{"tool":"a","summary":"ok"}`),
		frame(EventToolData, `{"result":{"k":{"nested":1}}}`),
	)
	c := m.Clone()
	*c.Steps[0].Summary = "changed"
	c.Data.Object("k")["nested"] = 2

	if *m.Steps[0].Summary != "ok" {
		t.Error("clone shares step summaries")
	}
	if m.Data.Object("k")["nested"] != float64(1) {
		t.Error("clone shares data")
	}
	if (*Message)(nil).Clone() != nil {
		t.Error("nil clone must be nil")
	}
}
