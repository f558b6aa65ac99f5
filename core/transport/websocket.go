package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteWait        = 10 * time.Second
	DefaultMaxMessageSize   = 16 * 1024 * 1024
	closeGracePeriod        = time.Second
)

// ErrClosed is returned by writes on a connection that was closed locally.
var ErrClosed = errors.New("connection closed")

type DialerOptions struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	MaxMessageSize   int64
	Header           http.Header
}

type DialerOption func(*DialerOptions)

func WithHandshakeTimeout(timeout time.Duration) DialerOption {
	return func(o *DialerOptions) {
		if timeout > 0 {
			o.HandshakeTimeout = timeout
		}
	}
}

func WithWriteWait(wait time.Duration) DialerOption {
	return func(o *DialerOptions) {
		if wait > 0 {
			o.WriteWait = wait
		}
	}
}

func WithHeader(key, value string) DialerOption {
	return func(o *DialerOptions) {
		o.Header.Set(key, value)
	}
}

// Dialer opens realtime websocket connections to one endpoint.
type Dialer struct {
	endpoint string
	apiKey   string
	options  DialerOptions
}

// NewDialer builds a dialer for baseURL with the model passed as a query
// parameter.
func NewDialer(baseURL, model, apiKey string, opts ...DialerOption) (*Dialer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	if model != "" {
		query := u.Query()
		query.Set("model", model)
		u.RawQuery = query.Encode()
	}

	options := DialerOptions{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteWait:        DefaultWriteWait,
		MaxMessageSize:   DefaultMaxMessageSize,
		Header:           http.Header{},
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Dialer{endpoint: u.String(), apiKey: apiKey, options: options}, nil
}

func (d *Dialer) Endpoint() string { return d.endpoint }

// Dial performs the websocket handshake, it honours ctx and the handshake
// timeout whichever ends first.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	ctx, span := tracer.Start(ctx, "dial realtime", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("url", d.endpoint))

	header := d.options.Header.Clone()
	header.Set("Authorization", "Bearer "+d.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.options.HandshakeTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	ws, resp, err := dialer.DialContext(ctx, d.endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			err = fmt.Errorf("failed to open realtime websocket (status %d): %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("failed to open realtime websocket: %w", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ws.SetReadLimit(d.options.MaxMessageSize)
	logger.Debug("realtime websocket connected", "url", d.endpoint)

	return &Conn{ws: ws, writeWait: d.options.WriteWait}, nil
}

// Conn is a websocket connection whose writes are serialized. Reads must
// come from a single goroutine.
type Conn struct {
	ws        *websocket.Conn
	writeWait time.Duration

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// ReadMessage blocks for the next text frame. Binary frames are skipped.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return msg, nil
		}
	}
}

// WriteMessages writes frames back to back, no other write can interleave
// with them.
func (c *Conn) WriteMessages(frames ...[]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	for _, frame := range frames {
		if c.writeWait > 0 {
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("failed to write websocket message: %w", err)
		}
	}
	return nil
}

// Close sends a normal close frame and closes the socket. Safe to call more
// than once and concurrently with reads.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		c.mu.Unlock()

		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// IsNormalClose reports whether err is the peer closing cleanly.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
