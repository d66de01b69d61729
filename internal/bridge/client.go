package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/piiguard/internal/protocol"
	"github.com/antoniostano/piiguard/internal/reliability"
)

var ErrNotConnected = errors.New("bridge client not connected")

// Client is a replica living in another process. It mirrors every marker the
// server announces into a local Bus and reconnects with capped exponential
// backoff until its context ends.
type Client struct {
	url        string
	dialer     websocket.Dialer
	logger     *slog.Logger
	local      *Bus
	backoff    time.Duration
	backoffCap time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url: url,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 4 * time.Second,
		},
		logger:     logger,
		local:      NewBus(),
		backoff:    250 * time.Millisecond,
		backoffCap: 10 * time.Second,
	}
}

// Current reads the locally mirrored marker.
func (c *Client) Current(topic Topic) Marker {
	return c.local.Current(topic)
}

// Subscribe observes mirrored notifications.
func (c *Client) Subscribe(buffer int, topics ...Topic) *Subscription {
	return c.local.Subscribe(buffer, topics...)
}

// Publish sends a new value to the server. The local mirror is updated when
// the server echoes the resulting notification.
func (c *Client) Publish(topic Topic, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.conn.WriteJSON(protocol.BridgePublish{
		Type:    protocol.TypeBridgePublish,
		Topic:   topic.MarkerID,
		Payload: payload,
	})
}

// Run connects and mirrors until ctx ends. A handshake rejected with a
// non-retryable status stops the loop with an error.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var statusErr *reliability.StatusError
		if errors.As(err, &statusErr) && !reliability.IsRetryableHTTPStatus(statusErr.Code) {
			return err
		}
		if connected {
			attempt = 0
		}
		wait := reliability.ExponentialBackoff(attempt, c.backoff, c.backoffCap)
		attempt++
		c.logger.Warn("bridge connection lost, retrying", "url", c.url, "in", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return false, &reliability.StatusError{Service: "bridge", Code: resp.StatusCode}
		}
		return false, fmt.Errorf("bridge dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.logger.Info("bridge connected", "url", c.url)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			c.logger.Debug("bridge ignored message", "error", err)
			continue
		}
		notify, ok := msg.(protocol.BridgeNotify)
		if !ok {
			continue
		}
		topic, err := TopicByMarker(notify.Topic)
		if err != nil {
			continue
		}
		c.local.Mirror(Marker{
			Topic:     topic,
			Epoch:     notify.Epoch,
			Version:   notify.Version,
			Payload:   notify.Payload,
			UpdatedAt: time.Now().UTC(),
		})
	}
}
