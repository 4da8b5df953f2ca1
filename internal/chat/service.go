package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/triage-console/internal/backend"
	"github.com/ashureev/triage-console/internal/domain"
	"github.com/ashureev/triage-console/internal/selection"
	"github.com/ashureev/triage-console/internal/session"
	"github.com/ashureev/triage-console/internal/store"
	"github.com/ashureev/triage-console/internal/stream"
	"github.com/google/uuid"
)

// persistTimeout bounds history writes made from the read loop.
const persistTimeout = 5 * time.Second

// ErrCreateConversation wraps a failure to register a new conversation
// with the service.
var ErrCreateConversation = errors.New("create conversation")

// ConversationCreator registers a conversation for configID and returns
// the id the service assigned. *backend.Client implements it as
// CreateConversation.
type ConversationCreator func(ctx context.Context, configID string) (string, error)

// SendRequest is what the UI submits. Empty ids fall back to the selection.
type SendRequest struct {
	Message        string `json:"message"`
	ConfigID       string `json:"config_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Service runs chat turns and keeps their history.
type Service struct {
	ctrl      *Controller
	create    ConversationCreator
	repo      store.Repository
	selection *selection.State
	logger    *slog.Logger
}

// NewService wires a chat controller to open, persisting completed turns in
// repo. create is used for the first turn sent without a conversation.
func NewService(open session.Opener[backend.ChatRequest], create ConversationCreator, repo store.Repository, sel *selection.State, logger *slog.Logger, opts ...session.Option[backend.ChatRequest, View]) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		create:    create,
		repo:      repo,
		selection: sel,
		logger:    logger.With("component", "chat"),
	}
	opts = append(opts,
		session.WithOnStart[backend.ChatRequest, View](s.recordUserTurn),
		session.WithOnFinish[backend.ChatRequest, View](s.recordAssistantTurn),
	)
	s.ctrl = NewController(open, logger, opts...)
	return s
}

// Controller exposes the underlying session controller.
func (s *Service) Controller() *Controller {
	return s.ctrl
}

// Send starts a turn. A finished previous turn is reset first; an active
// one makes Send fail with session.ErrAlreadyStreaming. Without a
// conversation, one is created through the service and selected.
func (s *Service) Send(ctx context.Context, in SendRequest) (backend.ChatRequest, error) {
	sel := s.selection.Get()
	req := backend.ChatRequest{
		Message:        strings.TrimSpace(in.Message),
		ConfigID:       in.ConfigID,
		ConversationID: in.ConversationID,
	}
	if req.ConfigID == "" {
		req.ConfigID = sel.ConfigID
	}
	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("%w: %w", session.ErrInvalidRequest, err)
	}
	if s.ctrl.Status() == session.StatusStreaming {
		return req, session.ErrAlreadyStreaming
	}

	if req.ConversationID == "" {
		id, err := s.selection.EnsureConversation(func() (string, error) {
			return s.create(ctx, req.ConfigID)
		})
		if err != nil {
			return req, fmt.Errorf("%w: %w", ErrCreateConversation, err)
		}
		req.ConversationID = id
		s.logger.Info("conversation selected", "conversation_id", id, "config_id", req.ConfigID)
	}

	if s.ctrl.Status() == session.StatusDone {
		if err := s.ctrl.Reset(); err != nil {
			return req, err
		}
	}
	if err := s.ctrl.Start(ctx, req); err != nil {
		return req, err
	}
	return req, nil
}

// Cancel stops the active turn.
func (s *Service) Cancel() bool {
	return s.ctrl.Cancel()
}

// Reset returns the chat session to idle.
func (s *Service) Reset() error {
	return s.ctrl.Reset()
}

// Snapshot returns the live view.
func (s *Service) Snapshot() session.Snapshot[View] {
	return s.ctrl.Snapshot()
}

// History returns the stored turns of a conversation, oldest first.
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if conversationID == "" {
		return nil, nil
	}
	turns, err := s.repo.ListTurns(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}

	out := make([]Message, 0, len(turns))
	for _, turn := range turns {
		msg := Message{
			ID:        turn.MessageID,
			Role:      Role(turn.Role),
			Content:   turn.Content,
			Finalized: true,
		}
		var extra turnPayload
		if err := json.Unmarshal([]byte(turn.PayloadJSON), &extra); err != nil {
			s.logger.Warn("skipping undecodable turn payload", "message_id", turn.MessageID, "error", err)
		} else {
			msg.Steps = extra.Steps
			msg.Data = extra.Data
			msg.LearningCard = extra.LearningCard
		}
		out = append(out, msg)
	}
	return out, nil
}

// ForgetConversation deletes the stored turns of a conversation and, when
// it is the selected one, clears it so the next Send starts a new one.
func (s *Service) ForgetConversation(ctx context.Context, conversationID string) (int64, error) {
	if conversationID == "" {
		return 0, nil
	}
	if s.ctrl.Status() == session.StatusStreaming {
		return 0, session.ErrStreaming
	}
	n, err := s.repo.DeleteConversation(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	if sel := s.selection.Get(); sel.ConversationID == conversationID {
		sel.ConversationID = ""
		s.selection.Set(sel)
	}
	s.logger.Info("conversation forgotten", "conversation_id", conversationID, "turns", n)
	return n, nil
}

type turnPayload struct {
	Steps        []Step       `json:"steps,omitempty"`
	Data         stream.Value `json:"data,omitempty"`
	LearningCard LearningCard `json:"learning_card,omitempty"`
}

func (s *Service) recordUserTurn(req backend.ChatRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.repo.AppendTurn(ctx, &domain.Turn{
		ConversationID: req.ConversationID,
		MessageID:      uuid.NewString(),
		Role:           string(RoleUser),
		Content:        req.Message,
	}); err != nil {
		s.logger.Error("failed to store user turn", "conversation_id", req.ConversationID, "error", err)
	}
}

func (s *Service) recordAssistantTurn(snap session.Snapshot[View]) {
	msg := snap.View.Message
	if msg == nil || snap.View.Request == nil {
		return
	}

	payload, err := json.Marshal(turnPayload{
		Steps:        msg.Steps,
		Data:         msg.Data,
		LearningCard: msg.LearningCard,
	})
	if err != nil {
		s.logger.Error("failed to encode assistant turn", "message_id", msg.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.repo.AppendTurn(ctx, &domain.Turn{
		ConversationID: snap.View.Request.ConversationID,
		MessageID:      msg.ID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		PayloadJSON:    string(payload),
	}); err != nil {
		s.logger.Error("failed to store assistant turn", "message_id", msg.ID, "error", err)
		return
	}
	s.logger.Debug("stored assistant turn", "message_id", msg.ID, "status_message", snap.Message)
}
