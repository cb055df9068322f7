package synchub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Backoff is a capped exponential delay. The zero value uses the defaults.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64

	current time.Duration
}

// Backoff defaults.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 30 * time.Second
	DefaultBackoffFactor  = 2.0
)

// Next returns the delay to wait before the next attempt and advances.
func (b *Backoff) Next() time.Duration {
	initial, ceiling, factor := b.Initial, b.Max, b.Factor
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffMax
	}
	if factor < 1 {
		factor = DefaultBackoffFactor
	}

	if b.current <= 0 {
		b.current = initial
	}
	d := b.current
	if d > ceiling {
		d = ceiling
	}

	next := time.Duration(float64(b.current) * factor)
	if next > ceiling || next <= 0 {
		next = ceiling
	}
	b.current = next
	return d
}

// Reset returns to the initial delay after a successful connection.
func (b *Backoff) Reset() { b.current = 0 }

// Client is the observer side of the sync protocol over a websocket. It
// reconnects with backoff and resubscribes to its groups after every
// reconnect. Events missed while disconnected are not replayed.
type Client struct {
	URL    string
	Header http.Header
	Groups []int64

	// Heartbeat is the ping interval. Zero disables pings.
	Heartbeat time.Duration
	Backoff   Backoff
	Dialer    *websocket.Dialer
	Logger    *slog.Logger

	// OnConnect is called after each successful dial, before subscribing.
	OnConnect func()
}

// Run connects and calls handle for every message received until ctx is
// done. It only returns ctx's error.
func (c *Client) Run(ctx context.Context, handle func(Message)) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for {
		err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := c.Backoff.Next()
		logger.Warn("sync connection lost, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one connection to completion.
func (c *Client) session(ctx context.Context, handle func(Message)) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", c.URL, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", c.URL, err)
	}
	defer ws.Close()

	c.Backoff.Reset()
	if c.OnConnect != nil {
		c.OnConnect()
	}

	// gorilla allows one concurrent writer.
	var writeMu sync.Mutex
	write := func(m Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteJSON(m)
	}

	for _, g := range c.Groups {
		if err := write(Message{Type: TypeSubscribe, Group: g}); err != nil {
			return fmt.Errorf("subscribe %d: %w", g, err)
		}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-sessionCtx.Done()
		// Unblocks ReadJSON.
		_ = ws.Close()
	}()

	if c.Heartbeat > 0 {
		go func() {
			ticker := time.NewTicker(c.Heartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-sessionCtx.Done():
					return
				case <-ticker.C:
					if err := write(Message{Type: TypePing}); err != nil {
						cancel()
						return
					}
				}
			}
		}()
	}

	for {
		var m Message
		if err := ws.ReadJSON(&m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		handle(m)
	}
}
