package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"blaulicht/internal/logger"
)

const ingressSize = 1024

var ErrClosed = errors.New("connection closed")

// Bus delivers every message sent by any connection to all live connections,
// including the sender. Per-connection mailboxes are unbounded, so a slow
// reader never stalls the exchange.
type Bus struct {
	log     *logger.Log
	ingress chan Message

	mu      sync.Mutex
	members map[uuid.UUID]*Connection
}

func NewBus(log logger.Logger) *Bus {
	return &Bus{
		log:     log.With(logger.Fields{"module": "bus"}),
		ingress: make(chan Message, ingressSize),
		members: make(map[uuid.UUID]*Connection),
	}
}

// Connect registers a new participant.
func (b *Bus) Connect() *Connection {
	c := &Connection{
		id:     uuid.New(),
		bus:    b,
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.members[c.id] = c
	b.mu.Unlock()
	b.log.Debugf("connection %s joined", c.id)
	return c
}

// Len returns the number of registered connections.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members)
}

// Run forwards messages until ctx is done.
func (b *Bus) Run(ctx context.Context) {
	b.log.Info("event bus started")
	for {
		select {
		case <-ctx.Done():
			b.log.Info("event bus stopped")
			return
		case msg := <-b.ingress:
			b.broadcast(msg)
		}
	}
}

func (b *Bus) broadcast(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.members {
		if c.closed.Load() {
			delete(b.members, id)
			b.log.Debugf("connection %s left", id)
			continue
		}
		c.push(Message{Originator: msg.Originator, Body: msg.Body.Clone()})
	}
}

// Connection is one participant of the bus.
type Connection struct {
	id     uuid.UUID
	bus    *Bus
	closed atomic.Bool

	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
}

func (c *Connection) ID() uuid.UUID { return c.id }

// Send hands msg to the exchange. It blocks only while the ingress is full.
func (c *Connection) Send(msg Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.bus.ingress <- msg
	return nil
}

// TrySend is Send without blocking; it reports whether the message was queued.
func (c *Connection) TrySend(msg Message) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.bus.ingress <- msg:
		return true
	default:
		return false
	}
}

func (c *Connection) push(msg Message) {
	c.mu.Lock()
	c.queue = append(c.queue, msg)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// TryRecv returns the oldest pending message, if any.
func (c *Connection) TryRecv() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Message{}, false
	}
	msg := c.queue[0]
	c.queue[0] = Message{}
	c.queue = c.queue[1:]
	return msg, true
}

// Ready fires after new messages arrive. Consumers select on it and then Drain.
func (c *Connection) Ready() <-chan struct{} { return c.notify }

// Pending returns the number of undelivered messages.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Drain returns every pending message in arrival order.
func (c *Connection) Drain() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// Recv blocks until a message arrives, ctx is done or the connection is closed.
func (c *Connection) Recv(ctx context.Context) (Message, error) {
	for {
		if msg, ok := c.TryRecv(); ok {
			return msg, nil
		}
		if c.closed.Load() {
			return Message{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-c.notify:
		}
	}
}

// Close detaches the connection; the bus drops it on the next broadcast.
func (c *Connection) Close() {
	if c.closed.Swap(true) {
		return
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
