// Package backend opens the streaming endpoints of the classification service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	ChatStreamPath       = "/api/chat"
	EvaluationStreamPath = "/api/evaluate/ground-truth"
	ConversationsPath    = "/api/conversations"

	// maxErrorBody bounds how much of a rejected response is kept for logs.
	maxErrorBody = 4 << 10
)

var (
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrMissingConfig    = errors.New("config_id is required")
	ErrMissingMessage   = errors.New("message is required")
	ErrNoConversationID = errors.New("conversation created without an id")
)

// StatusError reports a non-2xx answer. Detail is the service's "detail"
// string when the body carried one.
type StatusError struct {
	Status int
	Path   string
	Detail string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %d from %s", ErrUnexpectedStatus, e.Status, e.Path)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// UserMessage returns the text to show for the rejection, or "" when the
// service gave none.
func (e *StatusError) UserMessage() string {
	return e.Detail
}

// ChatRequest is the body of a chat stream request.
type ChatRequest struct {
	Message        string `json:"message"`
	ConfigID       string `json:"config_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Validate checks the identifying parameters.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.ConfigID) == "" {
		return ErrMissingConfig
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrMissingMessage
	}
	return nil
}

// EvaluationRequest is the body of an evaluation stream request.
type EvaluationRequest struct {
	ConfigID         string  `json:"config_id"`
	TicketCount      int     `json:"ticket_count"`
	MaxRounds        *int    `json:"max_rounds"`
	TargetConfidence float64 `json:"target_confidence"`
}

// Validate checks the identifying parameters.
func (r EvaluationRequest) Validate() error {
	if strings.TrimSpace(r.ConfigID) == "" {
		return ErrMissingConfig
	}
	return nil
}

// Client talks to the classification service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for baseURL. A nil httpClient gets one without
// a timeout: streams stay open for as long as the server keeps them.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// OpenChat starts a chat stream.
func (c *Client) OpenChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	return c.open(ctx, ChatStreamPath, req)
}

// OpenEvaluation starts an evaluation stream.
func (c *Client) OpenEvaluation(ctx context.Context, req EvaluationRequest) (io.ReadCloser, error) {
	return c.open(ctx, EvaluationStreamPath, req)
}

type createConversationRequest struct {
	ConfigID string `json:"config_id"`
}

type conversationResponse struct {
	ID string `json:"id"`
}

// CreateConversation registers a new conversation for configID and returns
// its id. Chat turns must reference a conversation the service knows.
func (c *Client) CreateConversation(ctx context.Context, configID string) (string, error) {
	payload, err := json.Marshal(createConversationRequest{ConfigID: configID})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ConversationsPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", ConversationsPath, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close conversation response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.rejected(resp, ConversationsPath)
	}

	var conv conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("decode conversation: %w", err)
	}
	if strings.TrimSpace(conv.ID) == "" {
		return "", ErrNoConversationID
	}
	c.logger.Debug("conversation created", "conversation_id", conv.ID, "config_id", configID)
	return conv.ID, nil
}

func (c *Client) open(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := c.rejected(resp, path)
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close rejected response body", "error", closeErr)
		}
		return nil, err
	}

	c.logger.Debug("stream opened", "path", path, "content_type", resp.Header.Get("Content-Type"))
	return resp.Body, nil
}

// rejected reads a bounded excerpt of a non-2xx body into a StatusError.
// The service reports failures as {"detail": "..."}; a non-string detail
// (validation error lists) is kept in the log only.
func (c *Client) rejected(resp *http.Response, path string) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	c.logger.Warn("request rejected",
		"path", path,
		"status", resp.StatusCode,
		"body", strings.TrimSpace(string(body)),
	)

	statusErr := &StatusError{Status: resp.StatusCode, Path: path}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var detail string
		if json.Unmarshal(payload.Detail, &detail) == nil {
			statusErr.Detail = strings.TrimSpace(detail)
		}
	}
	return statusErr
}
