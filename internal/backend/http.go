package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

// Paths served by an HTTP backend. Every call is a JSON POST.
const (
	PathUpdates    = "/v1/updates"
	PathEvents     = "/v1/events"
	PathSend       = "/v1/send"
	PathRehydrate  = "/v1/rehydrate"
	PathEdit       = "/v1/edit"
	PathDelete     = "/v1/delete"
	PathUndelete   = "/v1/undelete"
	PathReaction   = "/v1/reaction"
	PathSettings   = "/v1/settings"
	DefaultTimeout = 30 * time.Second

	// UserHeader names the calling user on every request.
	UserHeader = "X-Chatsync-User"
)

// ErrorBody is the JSON body of a non-2xx response. A 4xx response with a
// reason is an application rejection; anything else is a transport failure.
type ErrorBody struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message,omitempty"`
}

// MessageRequest addresses one message for rehydrate, edit, delete and
// reaction calls.
type MessageRequest struct {
	Context   string         `json:"context"`
	MessageID string         `json:"message_id,omitempty"`
	Event     *model.Event   `json:"event,omitempty"`
	Content   *model.Content `json:"content,omitempty"`
	Emoji     string         `json:"emoji,omitempty"`
	Add       bool           `json:"add,omitempty"`
}

// SettingsRequest changes per-chat settings.
type SettingsRequest struct {
	Chat     string       `json:"chat"`
	Settings ChatSettings `json:"settings"`
}

// WireSendRequest is SendRequest as it travels over HTTP.
type WireSendRequest struct {
	Context       string        `json:"context"`
	Event         model.Event   `json:"event"`
	Preconditions Preconditions `json:"preconditions"`
}

// WireFetchRequest is FetchRequest as it travels over HTTP.
type WireFetchRequest struct {
	Context           string      `json:"context"`
	IndexRange        model.Range `json:"index_range"`
	StartIndex        int         `json:"start_index"`
	Ascending         bool        `json:"ascending"`
	MaxEvents         int         `json:"max_events"`
	LatestKnownUpdate int64       `json:"latest_known_update"`
}

// HTTPClient is a Backend speaking JSON over HTTP.
type HTTPClient struct {
	baseURL string
	user    string
	http    *http.Client
	logger  *zap.Logger
}

// NewHTTPClient creates a client for the server at baseURL acting as user.
// A zero timeout uses DefaultTimeout.
func NewHTTPClient(baseURL, user string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// GetUpdates implements Backend.
func (c *HTTPClient) GetUpdates(ctx context.Context, req UpdatesRequest) (*Updates, error) {
	var out Updates
	if err := c.post(ctx, PathUpdates, req, &out, nil); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return &out, nil
}

// FetchEvents implements Backend. Every failure wraps ErrEventsFailed.
func (c *HTTPClient) FetchEvents(ctx context.Context, req FetchRequest) (*EventsPage, error) {
	wire := WireFetchRequest{
		Context:           req.Context.String(),
		IndexRange:        req.IndexRange,
		StartIndex:        req.StartIndex,
		Ascending:         req.Ascending,
		MaxEvents:         req.MaxEvents,
		LatestKnownUpdate: req.LatestKnownUpdate,
	}
	var out EventsPage
	if err := c.post(ctx, PathEvents, wire, &out, nil); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEventsFailed, req.Context, err)
	}
	return &out, nil
}

// SendMessage implements Backend. OnAccepted fires once the request body has
// been written to the connection.
func (c *HTTPClient) SendMessage(ctx context.Context, req SendRequest) (*SendResponse, error) {
	wire := WireSendRequest{Context: req.Context.String(), Event: req.Event, Preconditions: req.Preconditions}
	var out SendResponse
	if err := c.post(ctx, PathSend, wire, &out, req.OnAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

// RehydrateMessage implements Backend.
func (c *HTTPClient) RehydrateMessage(ctx context.Context, mctx model.MessageContext, evt model.Event) (model.Event, error) {
	var out model.Event
	if err := c.post(ctx, PathRehydrate, MessageRequest{Context: mctx.String(), MessageID: evt.MessageID(), Event: &evt}, &out, nil); err != nil {
		return evt, fmt.Errorf("rehydrate %s: %w", evt.MessageID(), err)
	}
	return out, nil
}

// EditMessage implements Backend.
func (c *HTTPClient) EditMessage(ctx context.Context, mctx model.MessageContext, messageID string, content model.Content) error {
	return c.post(ctx, PathEdit, MessageRequest{Context: mctx.String(), MessageID: messageID, Content: &content}, nil, nil)
}

// DeleteMessage implements Backend.
func (c *HTTPClient) DeleteMessage(ctx context.Context, mctx model.MessageContext, messageID string) error {
	return c.post(ctx, PathDelete, MessageRequest{Context: mctx.String(), MessageID: messageID}, nil, nil)
}

// UndeleteMessage implements Backend.
func (c *HTTPClient) UndeleteMessage(ctx context.Context, mctx model.MessageContext, messageID string) error {
	return c.post(ctx, PathUndelete, MessageRequest{Context: mctx.String(), MessageID: messageID}, nil, nil)
}

// ToggleReaction implements Backend.
func (c *HTTPClient) ToggleReaction(ctx context.Context, mctx model.MessageContext, messageID, emoji string, add bool) error {
	return c.post(ctx, PathReaction, MessageRequest{Context: mctx.String(), MessageID: messageID, Emoji: emoji, Add: add}, nil, nil)
}

// UpdateChatSettings implements Backend.
func (c *HTTPClient) UpdateChatSettings(ctx context.Context, chat model.ChatID, settings ChatSettings) error {
	return c.post(ctx, PathSettings, SettingsRequest{Chat: chat.String(), Settings: settings}, nil, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any, onWritten func()) error {
	body, err := sonnet.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if onWritten != nil {
		ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
			WroteRequest: func(info httptrace.WroteRequestInfo) {
				if info.Err == nil {
					onWritten()
				}
			},
		})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set(UserHeader, c.user)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	c.logger.Debug("backend call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode/100 != 2 {
		return responseError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonnet.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func responseError(code int, data []byte) error {
	var eb ErrorBody
	if err := sonnet.Unmarshal(data, &eb); err == nil && eb.Reason != "" && code/100 == 4 {
		return Rejected(eb.Reason, eb.Message)
	}
	if code/100 == 5 && eb.Reason == ReasonInternal {
		return Rejected(ReasonInternal, eb.Message)
	}
	return errors.New("http status " + http.StatusText(code))
}
