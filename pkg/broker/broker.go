// Package broker owns the AMQP connection and channels of one worker: a
// consume channel with bounded prefetch and explicit acknowledgment for the
// inbound queue, and a declare-only publish channel for the outbound queue.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by broker operations attempted while the
// connection is down.
var ErrNotConnected = errors.New("not connected to broker")

// Delivery is one received message.
type Delivery struct {
	Tag  uint64
	Body []byte
}

// Config holds connection parameters.
type Config struct {
	URL           string
	InboundQueue  string
	OutboundQueue string

	// Prefetch bounds the number of unacknowledged deliveries in flight.
	Prefetch int

	// ReconnectDelay is the fixed delay between connect attempts.
	ReconnectDelay time.Duration
}

// Connection manages the broker connection. Not safe for concurrent use;
// each worker owns exactly one.
type Connection struct {
	cfg Config
	log zerolog.Logger

	state      atomic.Int32
	conn       *amqp.Connection
	consumeCh  *amqp.Channel
	publishCh  *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// New creates a disconnected connection manager.
func New(cfg Config, log zerolog.Logger) *Connection {
	return &Connection{cfg: cfg, log: log}
}

// State returns the current connection state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Connect blocks until both channels are established, retrying on a fixed
// delay without cap. It returns early only when ctx is canceled. The whole
// worker blocks here; there is no liveness independent of this call.
func (c *Connection) Connect(ctx context.Context) error {
	c.state.Store(int32(Connecting))
	for {
		err := c.connectOnce()
		if err == nil {
			c.state.Store(int32(Connected))
			c.log.Info().Str("queue", c.cfg.InboundQueue).Msg("connected to broker")
			return nil
		}

		c.teardown()
		c.log.Error().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("broker connect failed")

		select {
		case <-ctx.Done():
			c.state.Store(int32(Disconnected))
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// Reconnect drops the current connection and connects again.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.Close()
	return c.Connect(ctx)
}

// Close tears down the channels and connection. Safe to call repeatedly.
func (c *Connection) Close() {
	c.teardown()
	c.state.Store(int32(Disconnected))
}

func (c *Connection) teardown() {
	if c.consumeCh != nil {
		_ = c.consumeCh.Close()
		c.consumeCh = nil
	}
	if c.publishCh != nil {
		_ = c.publishCh.Close()
		c.publishCh = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.deliveries = nil
}

func (c *Connection) connectOnce() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.conn = conn

	consumeCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("consume channel: %w", err)
	}
	c.consumeCh = consumeCh

	if err := consumeCh.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	if _, err := consumeCh.QueueDeclare(c.cfg.InboundQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", c.cfg.InboundQueue, err)
	}
	deliveries, err := consumeCh.Consume(c.cfg.InboundQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.InboundQueue, err)
	}
	c.deliveries = deliveries

	publishCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("publish channel: %w", err)
	}
	c.publishCh = publishCh

	if _, err := publishCh.QueueDeclare(c.cfg.OutboundQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", c.cfg.OutboundQueue, err)
	}
	return nil
}

// Receive waits up to timeout for one delivery. A nil delivery with nil
// error means the timeout elapsed with nothing pending. A closed delivery
// stream is a transport error; the caller reconnects.
func (c *Connection) Receive(timeout time.Duration) (*Delivery, error) {
	if c.deliveries == nil {
		return nil, ErrNotConnected
	}
	select {
	case d, ok := <-c.deliveries:
		if !ok {
			c.state.Store(int32(Disconnected))
			return nil, fmt.Errorf("delivery stream closed")
		}
		return &Delivery{Tag: d.DeliveryTag, Body: d.Body}, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

// Ack acknowledges one delivery.
func (c *Connection) Ack(tag uint64) error {
	if c.consumeCh == nil {
		return ErrNotConnected
	}
	if err := c.consumeCh.Ack(tag, false); err != nil {
		c.state.Store(int32(Disconnected))
		return fmt.Errorf("ack %d: %w", tag, err)
	}
	return nil
}

// Reject rejects one delivery, optionally requeueing it.
func (c *Connection) Reject(tag uint64, requeue bool) error {
	if c.consumeCh == nil {
		return ErrNotConnected
	}
	if err := c.consumeCh.Reject(tag, requeue); err != nil {
		c.state.Store(int32(Disconnected))
		return fmt.Errorf("reject %d: %w", tag, err)
	}
	return nil
}

// Publish sends one message to the named queue via the default exchange.
func (c *Connection) Publish(ctx context.Context, queue string, body []byte) error {
	if c.publishCh == nil {
		return ErrNotConnected
	}
	err := c.publishCh.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		c.state.Store(int32(Disconnected))
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}
