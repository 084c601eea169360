// Package realtime implements a WebSocket client for OpenAI's Realtime API.
//
// A [Client] owns one upstream connection and a retry loop around it. Decoded
// server events fan out to registered handlers in registration order; a
// failing handler is logged and skipped so one consumer never starves the
// others. Outgoing protocol messages (audio append/commit, conversation item
// injection, session updates) are exposed as typed helpers over a single
// writeJSON path.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrNotConnected is returned by send helpers when no upstream connection is
// established.
var ErrNotConnected = errors.New("realtime: not connected")

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond

	// connectedPollInterval is how often WaitUntilConnected rechecks.
	connectedPollInterval = 100 * time.Millisecond
)

// Handler consumes one decoded server event. Returning an error logs and
// continues; it never stops the read loop or later handlers.
type Handler func(evt *ServerEvent) error

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithBearerToken sets the Authorization header used when dialing. Use an
// ephemeral client secret here rather than a long-lived API key when the
// client runs on behalf of an end user.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.header.Set("Authorization", "Bearer "+token) }
}

// WithMaxRetries sets how many times Run redials after a failed connection,
// on top of the initial attempt. Default 3.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the fixed delay between connection attempts.
// Default 500ms.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithLogger sets the client's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithOnConnect registers a hook invoked after every successful dial, before
// any event is read. Session configuration and history replay belong here so
// they run again on reconnect.
func WithOnConnect(fn func(ctx context.Context) error) Option {
	return func(c *Client) { c.onConnect = fn }
}

// Client is a realtime WebSocket client. Construct with [NewClient], register
// handlers with [Client.OnEvent], then call [Client.Run] from a dedicated
// goroutine. All send helpers are safe for concurrent use.
type Client struct {
	url        string
	header     http.Header
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
	onConnect  func(ctx context.Context) error

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	handlers  []Handler
}

// NewClient creates a Client for the given WebSocket URL.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		header:     http.Header{"OpenAI-Beta": []string{"realtime=v1"}},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetOnConnect sets the post-dial hook; see [WithOnConnect]. Must be called
// before Run.
func (c *Client) SetOnConnect(fn func(ctx context.Context) error) {
	c.onConnect = fn
}

// OnEvent appends a handler to the fan-out chain. Handlers run in
// registration order on the read-loop goroutine; register them before Run.
func (c *Client) OnEvent(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Run dials the endpoint and processes events until the connection ends. On
// failure it waits the retry delay and redials, up to maxRetries times beyond
// the initial attempt. Run returns nil after Close or context cancellation,
// and the last connection error once the budget is spent.
func (c *Client) Run(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		err := c.runOnce(ctx)
		if err == nil || ctx.Err() != nil || c.isClosed() {
			return nil
		}
		lastErr = err
		c.log.Warn("realtime connection ended, retrying",
			"attempt", attempt+1, "max_retries", c.maxRetries, "error", err)
	}
	return fmt.Errorf("realtime: connection failed after %d retries: %w", c.maxRetries, lastErr)
}

// runOnce performs a single dial-and-read cycle. It returns nil only on a
// clean shutdown (Close or context cancellation).
func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, &websocket.DialOptions{HTTPHeader: c.header})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client closed")
		return nil
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session ended")
	}()

	if c.onConnect != nil {
		if err := c.onConnect(ctx); err != nil {
			return fmt.Errorf("on-connect hook: %w", err)
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var evt ServerEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// Not every frame is a well-formed event; skip and keep reading.
			continue
		}
		c.dispatch(&evt)
	}
}

// dispatch runs the handler chain over one event. Handler errors are logged
// and do not short-circuit the chain.
func (c *Client) dispatch(evt *ServerEvent) {
	c.mu.Lock()
	handlers := c.handlers
	c.mu.Unlock()

	for _, h := range handlers {
		if err := h(evt); err != nil {
			c.log.Warn("event handler failed", "event_type", evt.Type, "error", err)
		}
	}
}

// Connected reports whether an upstream connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// WaitUntilConnected blocks until the client is connected or timeout elapses,
// reporting which happened. Callers gate the first audio send on this so
// early chunks are not dropped while the dial is in flight.
func (c *Client) WaitUntilConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if c.Connected() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(connectedPollInterval)
	}
}

// SendEvent marshals v and writes it as a text message.
func (c *Client) SendEvent(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal event: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("realtime: write event: %w", err)
	}
	return nil
}

// AppendAudio forwards one base64-encoded PCM16 chunk to the input buffer.
// The payload is validated but not re-encoded; the relay passes client audio
// through untouched.
func (c *Client) AppendAudio(ctx context.Context, audioB64 string) error {
	if audioB64 == "" {
		return nil
	}
	if _, err := base64.StdEncoding.DecodeString(audioB64); err != nil {
		return fmt.Errorf("realtime: invalid audio payload: %w", err)
	}
	return c.SendEvent(ctx, appendAudioMessage{Type: TypeInputAudioAppend, Audio: audioB64})
}

// CommitAudio commits the input audio buffer, closing the current user turn.
func (c *Client) CommitAudio(ctx context.Context) error {
	return c.SendEvent(ctx, map[string]string{"type": TypeInputAudioCommit})
}

// ClearAudio discards any uncommitted input audio.
func (c *Client) ClearAudio(ctx context.Context) error {
	return c.SendEvent(ctx, map[string]string{"type": TypeInputAudioClear})
}

// CreateItem injects a text conversation item. Assistant items use the "text"
// part type; user and system items use "input_text".
func (c *Client) CreateItem(ctx context.Context, role, text string) error {
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	return c.SendEvent(ctx, createConversationItemMessage{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    role,
			Content: []ContentPart{{Type: partType, Text: text}},
		},
	})
}

// CreateResponse asks the model to respond to the current conversation state.
func (c *Client) CreateResponse(ctx context.Context) error {
	return c.SendEvent(ctx, map[string]string{"type": TypeResponseCreate})
}

// RespondWithInstructions requests one spoken response steered by
// instructions, leaving the session instructions untouched. This is how a
// specific utterance (a scenario follow-up question, a closing message) is
// put in the model's mouth.
func (c *Client) RespondWithInstructions(ctx context.Context, instructions string) error {
	return c.SendEvent(ctx, responseCreateMessage{
		Type: TypeResponseCreate,
		Response: &ResponseParams{
			Modalities:   []string{"audio", "text"},
			Instructions: instructions,
		},
	})
}

// CancelResponse stops any in-flight model response.
func (c *Client) CancelResponse(ctx context.Context) error {
	return c.SendEvent(ctx, map[string]string{"type": TypeResponseCancel})
}

// UpdateSession sends a session.update with the given parameters.
func (c *Client) UpdateSession(ctx context.Context, params SessionParams) error {
	return c.SendEvent(ctx, sessionUpdateMessage{Type: TypeSessionUpdate, Session: params})
}

// Close tears down the connection and makes Run return. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
