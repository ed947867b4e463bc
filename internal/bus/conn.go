package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/filegraph/filegraph/internal/metrics"
)

// State is the broker connection phase.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Draining
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// ErrDraining is returned for operations attempted after Close.
var ErrDraining = errors.New("bus connection draining")

const (
	reconnectInitialInterval = 500 * time.Millisecond
	reconnectMaxInterval     = 30 * time.Second
)

// Conn owns one AMQP connection plus one confirm-mode channel and hides
// reconnection behind Channel. Topology is re-declared on every (re)connect;
// all declares are idempotent so this is safe against an already-provisioned
// broker.
type Conn struct {
	url  string
	topo Topology

	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	state State
}

func New(url string, topo Topology) *Conn {
	return &Conn{
		url:   url,
		topo:  topo,
		state: Disconnected,
	}
}

// Channel returns a live channel, dialing with capped exponential backoff if
// the connection is down. Safe for concurrent use; publish serialization is
// the caller's concern (see Publisher).
func (c *Conn) Channel(ctx context.Context) (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Draining {
		return nil, ErrDraining
	}
	if c.state == Connected && c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}

	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}
	c.setState(Connecting)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitialInterval
	bo.MaxInterval = reconnectMaxInterval
	bo.MaxElapsedTime = 0 // retry until ctx cancels

	if err := backoff.Retry(func() error {
		return c.connect()
	}, backoff.WithContext(bo, ctx)); err != nil {
		c.setState(Disconnected)
		return nil, fmt.Errorf("connect %s: %w", c.topo.Exchange, err)
	}

	c.setState(Connected)
	return c.ch, nil
}

// connect dials, opens a confirm-mode channel, and declares topology.
// Called with c.mu held.
func (c *Conn) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		metrics.BusReconnects.Inc()
		slog.Warn("bus dial failed", "error", err)
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	if err := c.topo.Declare(ch); err != nil {
		conn.Close()
		return err
	}

	go c.watchClose(conn)

	c.conn, c.ch = conn, ch
	return nil
}

// watchClose flips the state to Disconnected when the broker drops the
// connection, so the next Channel call redials.
func (c *Conn) watchClose(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if closeErr == nil {
		return // clean shutdown
	}
	slog.Warn("bus connection lost", "error", closeErr)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn && c.state != Draining {
		c.setState(Disconnected)
	}
}

// State reports the current connection phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close transitions to Draining and closes the underlying connection. Any
// unacknowledged deliveries in flight are redelivered by the broker.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setState(Draining)
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}

// setState logs the transition. Called with c.mu held.
func (c *Conn) setState(s State) {
	if c.state == s {
		return
	}
	slog.Info("bus state", "from", c.state, "to", s)
	c.state = s
}
