// Package sse implements Server-Sent Events fan-out for the daemon.
// Unlike a net/http SSE layer there is no ResponseWriter anywhere in
// this package: a subscriber's events are pulled through the
// respbuild.Generator returned by Handler.Generator (generator.go), so
// the bytes travel the connection state machine's ordinary chunked
// body path and a slow subscriber can only ever stall its own
// connection.
package sse

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one Server-Sent Event before wire formatting.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
}

// AppendEvent appends ev's wire form to dst: the "field: value" lines
// the text/event-stream format defines, closed by a blank line. Built
// append-style so a Generator can format straight into the
// connection's write buffer without an intermediate allocation.
func AppendEvent(dst []byte, ev *Event) []byte {
	if ev.ID != "" {
		dst = append(dst, "id: "...)
		dst = append(dst, ev.ID...)
		dst = append(dst, '\n')
	}
	if ev.Event != "" {
		dst = append(dst, "event: "...)
		dst = append(dst, ev.Event...)
		dst = append(dst, '\n')
	}
	if ev.Retry > 0 {
		dst = append(dst, "retry: "...)
		dst = strconv.AppendInt(dst, int64(ev.Retry), 10)
		dst = append(dst, '\n')
	}
	if ev.Data != "" {
		dst = append(dst, "data: "...)
		dst = append(dst, ev.Data...)
		dst = append(dst, '\n')
	}
	return append(dst, '\n')
}

// FormatEvent renders ev into a fresh buffer.
func FormatEvent(ev *Event) []byte { return AppendEvent(nil, ev) }

// Client is one subscriber: a buffered event channel the broker
// pushes into and a Generator (or HandleConnection loop) drains.
type Client struct {
	ID      string
	Channel chan *Event
	LastID  string

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewClient builds a subscriber with room for bufferSize undelivered
// events before sends to it start dropping.
func NewClient(id string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Client{
		ID:      id,
		Channel: make(chan *Event, bufferSize),
		closeCh: make(chan struct{}),
	}
}

// Close ends the subscription; safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		close(c.Channel)
	})
}

// IsClosed reports whether Close has run.
func (c *Client) IsClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Send delivers one event without ever blocking the publisher: a
// closed subscriber or a full channel drops the event and reports
// false.
func (c *Client) Send(event *Event) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.Channel <- event:
		return true
	default:
		return false
	}
}

// Broker owns the subscriber set and fans published events out to it.
// All registry mutation happens under one mutex; delivery itself is
// the non-blocking Client.Send, so Publish never waits on a slow
// subscriber either.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]*Client

	maxClients int
	keepalive  time.Duration
	stop       chan struct{}
	stopOnce   sync.Once

	total   atomic.Int64
	sent    atomic.Int64
	dropped atomic.Int64
}

// NewBroker builds a Broker capped at maxClients subscribers, emitting
// a keepalive event to every subscriber each keepaliveInterval so an
// idle event stream still defeats intermediary idle timeouts.
func NewBroker(maxClients int, keepaliveInterval time.Duration) *Broker {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if keepaliveInterval <= 0 {
		keepaliveInterval = 30 * time.Second
	}
	b := &Broker{
		clients:    make(map[string]*Client),
		maxClients: maxClients,
		keepalive:  keepaliveInterval,
		stop:       make(chan struct{}),
	}
	go b.keepaliveLoop()
	return b
}

func (b *Broker) keepaliveLoop() {
	ticker := time.NewTicker(b.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.Publish(&Event{Event: "keepalive", Data: "timestamp:" + strconv.FormatInt(now.Unix(), 10)})
		}
	}
}

// Register adds a subscriber, refusing past the client cap.
func (b *Broker) Register(client *Client) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.clients) >= b.maxClients {
		return fmt.Errorf("sse: max clients reached (%d)", b.maxClients)
	}
	b.clients[client.ID] = client
	b.total.Add(1)
	return nil
}

// Unregister removes and closes a subscriber. A stale handle for an
// ID that was since re-registered leaves the newer subscriber alone.
func (b *Broker) Unregister(client *Client) {
	b.mu.Lock()
	if b.clients[client.ID] == client {
		delete(b.clients, client.ID)
	}
	b.mu.Unlock()
	client.Close()
}

// Publish fans event out to every current subscriber.
func (b *Broker) Publish(event *Event) {
	b.sent.Add(1)
	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()
	for _, c := range targets {
		if !c.Send(event) {
			b.dropped.Add(1)
		}
	}
}

// PublishToClient delivers event to one subscriber only.
func (b *Broker) PublishToClient(clientID string, event *Event) bool {
	c, ok := b.GetClient(clientID)
	if !ok {
		return false
	}
	return c.Send(event)
}

// GetClient looks a subscriber up by ID.
func (b *Broker) GetClient(clientID string) (*Client, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[clientID]
	return c, ok
}

// ClientCount reports the current subscriber count.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close stops the keepalive loop and every subscriber.
func (b *Broker) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
	b.mu.Lock()
	for id, c := range b.clients {
		delete(b.clients, id)
		c.Close()
	}
	b.mu.Unlock()
}

// Stats reports lifetime counters alongside the live subscriber count.
func (b *Broker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_clients":    b.total.Load(),
		"current_clients":  b.ClientCount(),
		"messages_sent":    b.sent.Load(),
		"messages_dropped": b.dropped.Load(),
	}
}
