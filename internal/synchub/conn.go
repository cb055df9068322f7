package synchub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueSize is the per-observer outbound buffer.
const DefaultQueueSize = 64

var (
	// ErrObserverClosed is returned when delivering to a closed observer.
	ErrObserverClosed = errors.New("observer closed")
	// ErrObserverSlow is returned when an observer's queue is full. The
	// observer is closed as a side effect.
	ErrObserverSlow = errors.New("observer queue full")
)

// Transport writes one message to the underlying transport.
type Transport interface {
	Send(context.Context, Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(context.Context, Message) error

func (f TransportFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }

// Conn is an Observer backed by a bounded queue drained by Run. It is safe
// for concurrent use.
type Conn struct {
	id        string
	actor     string
	transport Transport
	queue     chan Message
	logger    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn creates an observer for actor that writes through transport.
// A queueSize of zero or less uses DefaultQueueSize.
func NewConn(actor string, transport Transport, queueSize int, logger *slog.Logger) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Conn{
		id:        id,
		actor:     actor,
		transport: transport,
		queue:     make(chan Message, queueSize),
		logger:    logger.With("observer", id, "actor", actor),
		done:      make(chan struct{}),
	}
}

func (c *Conn) ID() string    { return c.id }
func (c *Conn) Actor() string { return c.actor }

// Deliver enqueues m without blocking.
func (c *Conn) Deliver(m Message) error {
	select {
	case <-c.done:
		return ErrObserverClosed
	default:
	}

	select {
	case c.queue <- m:
		return nil
	default:
		c.logger.Warn("observer queue full, dropping connection", "type", m.Type)
		c.Close()
		return ErrObserverSlow
	}
}

// Run writes queued messages until ctx ends, the conn is closed or the
// transport fails. The conn is closed on return.
func (c *Conn) Run(ctx context.Context) error {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case m := <-c.queue:
			if err := c.transport.Send(ctx, m); err != nil {
				c.logger.Debug("send failed", "error", err)
				return err
			}
		}
	}
}

// Close marks the conn dead. Queued messages are discarded.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the conn is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }
