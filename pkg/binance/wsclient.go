package binance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"klinecollector/pkg/timing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler receives every frame read from the stream, and read/dial failures.
type Handler interface {
	OnMessage(msg []byte)
	OnError(err error)
}

// ErrClientClosed is returned by Connect after Close.
var ErrClientClosed = errors.New("websocket client closed")

// WSClient reads a combined kline stream and reconnects until closed.
type WSClient struct {
	baseURL        string
	streams        []string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	handler        Handler
	logger         *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

// StreamName is the stream id of one subscription, e.g. "btcusdt@kline_1m".
func StreamName(ticker string, res timing.Resolution) string {
	return strings.ToLower(ticker) + "@kline_" + string(res)
}

// Streams builds the stream ids for every ticker/resolution pair.
func Streams(tickers []string, resolutions []timing.Resolution) []string {
	out := make([]string, 0, len(tickers)*len(resolutions))
	for _, t := range tickers {
		for _, r := range resolutions {
			out = append(out, StreamName(t, r))
		}
	}
	return out
}

func NewWSClient(baseURL string, streams []string, handshakeTimeout, reconnectDelay time.Duration, h Handler, logger *zap.Logger) *WSClient {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &WSClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		streams:        streams,
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: websocket.DefaultDialer.Proxy},
		reconnectDelay: reconnectDelay,
		handler:        h,
		logger:         logger.Named("ws"),
		closed:         make(chan struct{}),
	}
}

// URL is the combined-stream endpoint, /stream?streams=a/b/c.
func (c *WSClient) URL() string {
	return c.baseURL + "/stream?streams=" + strings.Join(c.streams, "/")
}

func (c *WSClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Connect dials the stream. Subscriptions are part of the URL, so a redial resubscribes.
func (c *WSClient) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	conn, _, err := c.dialer.DialContext(ctx, c.URL(), nil)
	if err != nil {
		c.logger.Error("Failed to connect to WebSocket", zap.String("url", c.URL()), zap.Error(err))
		return err
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	// Close may have raced with the dial
	if c.isClosed() {
		_ = conn.Close()
		return ErrClientClosed
	}

	c.logger.Info("WebSocket connected", zap.Int("streams", len(c.streams)))
	return nil
}

// Listen delivers messages until ctx is done or Close is called. Read errors go to the
// handler and trigger a reconnect after the configured delay.
func (c *WSClient) Listen(ctx context.Context) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.logger.Error("WebSocket read error", zap.Error(err))
			c.handler.OnError(err)

			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			_ = conn.Close()
			continue
		}

		c.handler.OnMessage(msg)
	}
}

// reconnect retries Connect until it succeeds or the client stops.
func (c *WSClient) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-c.closed:
			return false
		case <-time.After(c.reconnectDelay):
		}

		err := c.Connect(ctx)
		if err == nil {
			c.logger.Info("Reconnected successfully")
			return true
		}
		if errors.Is(err, ErrClientClosed) || c.isClosed() {
			return false
		}
		c.handler.OnError(err)
		c.logger.Warn("Retrying reconnect...", zap.Duration("delay", c.reconnectDelay))
	}
}

// Close stops delivery. A message already being handled completes first.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = conn.Close()
		}
	})
	return err
}
