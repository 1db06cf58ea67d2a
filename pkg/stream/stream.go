package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/notifyhub/notifyhub/pkg/bus"
	"github.com/notifyhub/notifyhub/pkg/notify"
)

// ErrClosed is returned by Next after the consumer has been closed.
var ErrClosed = errors.New("stream: consumer closed")

// Gateway turns bus publishes into per-consumer ordered sequences. Each
// attached consumer owns a private unbounded FIFO queue, so a slow consumer
// never drops a record published while it was between Next calls.
type Gateway struct {
	bus     *bus.Bus
	channel string
}

// NewGateway creates a gateway reading from the given bus channel.
func NewGateway(b *bus.Bus, channel string) *Gateway {
	return &Gateway{bus: b, channel: channel}
}

// Attach subscribes a new consumer to the gateway's channel.
func (g *Gateway) Attach() *Consumer {
	c := &Consumer{}
	c.cond = sync.NewCond(&c.mu)
	c.unsubscribe = g.bus.Subscribe(g.channel, c.enqueue)
	return c
}

// Consumer is one attached client session's view of the live stream.
type Consumer struct {
	mu          sync.Mutex
	cond        *sync.Cond
	queue       []notify.NotificationRecord
	closed      bool
	unsubscribe func()
}

func (c *Consumer) enqueue(rec notify.NotificationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue = append(c.queue, rec)
	c.cond.Signal()
}

// Next returns the next record in publish order, blocking while the queue is
// empty. It returns ctx.Err() if the context is canceled while waiting and
// ErrClosed once Close has been called.
func (c *Consumer) Next(ctx context.Context) (notify.NotificationRecord, error) {
	// Wake the cond wait when the context is canceled.
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.queue) == 0 {
		if c.closed {
			return notify.NotificationRecord{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return notify.NotificationRecord{}, err
		}
		c.cond.Wait()
	}

	rec := c.queue[0]
	c.queue = c.queue[1:]
	return rec, nil
}

// Close detaches the consumer from the bus. Queued but undelivered records
// are discarded; a blocked Next returns ErrClosed.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	c.unsubscribe()
}
