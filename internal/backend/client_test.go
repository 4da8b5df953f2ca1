package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenChatPostsRequest(t *testing.T) {
	t.Parallel()

	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept = %q", accept)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: done\ndata: {}\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil, nil)
	body, err := c.OpenChat(context.Background(), ChatRequest{Message: "bonjour", ConfigID: "cfg-1", ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "event: done\ndata: {}\n\n" {
		t.Fatalf("body = %q", data)
	}
	if got.Message != "bonjour" || got.ConfigID != "cfg-1" || got.ConversationID != "conv-1" {
		t.Fatalf("server saw %+v", got)
	}
}

func TestOpenEvaluationSendsNullMaxRounds(t *testing.T) {
	t.Parallel()

	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/evaluate/ground-truth" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL, nil, nil).OpenEvaluation(context.Background(), EvaluationRequest{
		ConfigID:         "cfg",
		TicketCount:      5,
		TargetConfidence: 0.9,
	})
	if err != nil {
		t.Fatalf("OpenEvaluation: %v", err)
	}
	_ = body.Close()

	if v, ok := raw["max_rounds"]; !ok || v != nil {
		t.Fatalf("max_rounds = %v (present=%v), want explicit null", v, ok)
	}
	if raw["ticket_count"] != float64(5) {
		t.Fatalf("ticket_count = %v", raw["ticket_count"])
	}
}

func TestOpenRejectsNon2xx(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{name: "string detail", status: http.StatusNotFound, body: `{"detail":"Conversation non trouvee"}`, wantDetail: "Conversation non trouvee"},
		{name: "validation list", status: http.StatusUnprocessableEntity, body: `{"detail":[{"loc":["body","config_id"],"msg":"field required"}]}`},
		{name: "not json", status: http.StatusBadGateway, body: "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil, nil).OpenChat(context.Background(), ChatRequest{Message: "m", ConfigID: "c", ConversationID: "conv-unknown"})
			if !errors.Is(err, ErrUnexpectedStatus) {
				t.Fatalf("error = %v, want ErrUnexpectedStatus", err)
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("error = %T, want *StatusError", err)
			}
			if statusErr.Status != tt.status || statusErr.Path != "/api/chat" {
				t.Errorf("status error = %+v", statusErr)
			}
			if got := statusErr.UserMessage(); got != tt.wantDetail {
				t.Errorf("UserMessage = %q, want %q", got, tt.wantDetail)
			}
		})
	}
}

func TestOpenChatOmitsEmptyConversation(t *testing.T) {
	t.Parallel()

	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode body: %v", err)
		}
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL, nil, nil).OpenChat(context.Background(), ChatRequest{Message: "m", ConfigID: "c"})
	if err != nil {
		t.Fatalf("OpenChat: %v", err)
	}
	_ = body.Close()

	if _, ok := raw["conversation_id"]; ok {
		t.Fatalf("conversation_id sent without a conversation: %v", raw)
	}
}

func TestCreateConversation(t *testing.T) {
	t.Parallel()

	var got createConversationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/conversations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"3f1c0a52-8d7e-4f0a-9a55-0b7c2e1d9f10","config_id":"cfg-1","title":null,"message_count":0}`)
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, nil, nil).CreateConversation(context.Background(), "cfg-1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if id != "3f1c0a52-8d7e-4f0a-9a55-0b7c2e1d9f10" {
		t.Fatalf("id = %q", id)
	}
	if got.ConfigID != "cfg-1" {
		t.Fatalf("server saw %+v", got)
	}
}

func TestCreateConversationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "unknown config", status: http.StatusUnprocessableEntity, body: `{"detail":"config_id invalide"}`, wantErr: ErrUnexpectedStatus},
		{name: "missing id", status: http.StatusOK, body: `{"config_id":"cfg-1"}`, wantErr: ErrNoConversationID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil, nil).CreateConversation(context.Background(), "cfg-1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()

	if err := (ChatRequest{Message: "m"}).Validate(); !errors.Is(err, ErrMissingConfig) {
		t.Errorf("chat without config: %v", err)
	}
	if err := (ChatRequest{ConfigID: "c", Message: "  "}).Validate(); !errors.Is(err, ErrMissingMessage) {
		t.Errorf("chat without message: %v", err)
	}
	if err := (EvaluationRequest{}).Validate(); !errors.Is(err, ErrMissingConfig) {
		t.Errorf("evaluation without config: %v", err)
	}
	if err := (EvaluationRequest{ConfigID: "c"}).Validate(); err != nil {
		t.Errorf("valid evaluation: %v", err)
	}
}
