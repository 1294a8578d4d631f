package broker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultRequestTimeout = 10 * time.Second
	writeWait             = 10 * time.Second
	pingPeriod            = 30 * time.Second
	maxMessageSize        = 512 * 1024
)

// ChannelEnvelope is the JSON frame exchanged with the host. Responses echo
// the request's MessageID; host-initiated messages carry a fresh one.
type ChannelEnvelope struct {
	MessageID string         `json:"messageId"`
	Command   string         `json:"command,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Validate rejects frames the protocol cannot correlate.
func (e ChannelEnvelope) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.MessageID, validation.Required),
	)
}

// MessageHandler receives host-initiated messages that correlate to no
// pending request.
type MessageHandler func(command string, data map[string]any)

// WebChannel is a websocket-backed Channel: correlated requests by message
// id, one-way sends, and a ping ticker keeping the socket alive.
type WebChannel struct {
	conn    *websocket.Conn
	logger  Logger
	timeout time.Duration
	handler MessageHandler

	statusSupported bool

	mu      sync.Mutex
	pending map[string]chan ChannelEnvelope

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// WebChannelOption customizes a dialed channel.
type WebChannelOption func(*WebChannel)

// WithChannelLogger overrides the default stdout logger.
func WithChannelLogger(logger Logger) WebChannelOption {
	return func(c *WebChannel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestTimeout bounds how long Request waits for a response.
func WithRequestTimeout(timeout time.Duration) WebChannelOption {
	return func(c *WebChannel) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithMessageHandler receives host-initiated messages.
func WithMessageHandler(handler MessageHandler) WebChannelOption {
	return func(c *WebChannel) {
		c.handler = handler
	}
}

// WithStatusSupport declares whether the host answers the status query.
func WithStatusSupport(supported bool) WebChannelOption {
	return func(c *WebChannel) {
		c.statusSupported = supported
	}
}

// DialWebChannel connects to the host's channel server.
func DialWebChannel(ctx context.Context, rawURL string, opts ...WebChannelOption) (*WebChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "unable to dial channel server")
	}
	return NewWebChannel(conn, opts...), nil
}

// NewWebChannel wraps an established websocket connection and starts its
// read and write pumps.
func NewWebChannel(conn *websocket.Conn, opts ...WebChannelOption) *WebChannel {
	c := &WebChannel{
		conn:            conn,
		logger:          defLogger{},
		timeout:         defaultRequestTimeout,
		statusSupported: true,
		pending:         make(map[string]chan ChannelEnvelope),
		send:            make(chan []byte, 64),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	go c.readPump()
	go c.writePump()

	return c
}

var _ Channel = (*WebChannel)(nil)

func (c *WebChannel) IsStatusSupported() bool {
	return c.statusSupported
}

// Request sends an envelope and waits for the correlated response. The
// response's err field is surfaced as an error; a host reporting it has no
// handler for the command classifies as ErrInvalidWebChannel.
func (c *WebChannel) Request(ctx context.Context, command string, data map[string]any) (map[string]any, error) {
	envelope := ChannelEnvelope{
		MessageID: uuid.NewString(),
		Command:   command,
		Data:      data,
	}
	if err := envelope.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid channel envelope")
	}

	wait := make(chan ChannelEnvelope, 1)
	c.mu.Lock()
	c.pending[envelope.MessageID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, envelope.MessageID)
		c.mu.Unlock()
	}()

	if err := c.enqueue(envelope); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case response := <-wait:
		return c.classify(command, response)
	case <-timer.C:
		return nil, detail(ErrChannelTimeout, map[string]any{
			"command": command,
		})
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, detail(ErrInvalidWebChannel, map[string]any{
			"command": command,
			"reason":  "channel closed",
		})
	}
}

// Send writes a one-way notification.
func (c *WebChannel) Send(ctx context.Context, command string, data map[string]any) error {
	return c.enqueue(ChannelEnvelope{
		MessageID: uuid.NewString(),
		Command:   command,
		Data:      data,
	})
}

func (c *WebChannel) enqueue(envelope ChannelEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to encode channel envelope")
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return detail(ErrInvalidWebChannel, map[string]any{
			"command": envelope.Command,
			"reason":  "channel closed",
		})
	}
}

// classify maps the response's error field onto the channel error taxonomy:
// a host that does not understand the command is an invalid-web-channel
// classification, anything else a generic protocol failure.
func (c *WebChannel) classify(command string, response ChannelEnvelope) (map[string]any, error) {
	raw, ok := response.Data["error"]
	if !ok || raw == nil {
		return response.Data, nil
	}

	message, _ := raw.(string)
	lowered := strings.ToLower(message)
	if strings.Contains(lowered, "no such channel") || strings.Contains(lowered, "unknown command") {
		return nil, detail(ErrInvalidWebChannel, map[string]any{
			"command": command,
			"error":   message,
		})
	}
	return nil, goerrors.New("channel request failed: "+message, goerrors.CategoryOperation).
		WithMetadata(map[string]any{"command": command})
}

func (c *WebChannel) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("channel read: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))

		var envelope ChannelEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.logger.Warn("channel frame: %v", err)
			continue
		}
		if err := envelope.Validate(); err != nil {
			c.logger.Warn("channel frame: %v", err)
			continue
		}

		c.mu.Lock()
		wait, pending := c.pending[envelope.MessageID]
		c.mu.Unlock()

		if pending {
			select {
			case wait <- envelope:
			default:
				// replayed frame for an already-answered request
				c.logger.Warn("dropping duplicate frame for message %s", envelope.MessageID)
			}
			continue
		}
		if c.handler != nil {
			c.handler(envelope.Command, envelope.Data)
		}
	}
}

func (c *WebChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Close tears the channel down. Pending requests fail with an
// invalid-web-channel classification. Idempotent.
func (c *WebChannel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
