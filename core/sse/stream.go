package sse

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stream is the host-facing publishing surface over one Broker: it
// stamps namespaced, monotonically increasing event IDs so a client
// reconnecting with Last-Event-ID has something coherent to resume
// against, and hides the subscriber bookkeeping behind
// Subscribe/Unsubscribe.
type Stream struct {
	broker    *Broker
	eventID   atomic.Uint64
	namespace string
}

// NewStream builds a Stream over a fresh default Broker.
func NewStream(namespace string) *Stream {
	return &Stream{
		broker:    NewBroker(10000, 30*time.Second),
		namespace: namespace,
	}
}

// WithBroker swaps in a shared or specially-configured Broker.
func (s *Stream) WithBroker(broker *Broker) *Stream {
	s.broker = broker
	return s
}

// Subscribe registers a new subscriber under clientID and returns its
// Client, whose Channel a Generator (or HandleConnection) drains.
func (s *Stream) Subscribe(clientID string) (*Client, error) {
	client := NewClient(clientID, 100)
	if err := s.broker.Register(client); err != nil {
		return nil, err
	}
	return client, nil
}

// Unsubscribe ends a subscription obtained from Subscribe.
func (s *Stream) Unsubscribe(client *Client) {
	s.broker.Unregister(client)
}

// Send publishes one event to every subscriber.
func (s *Stream) Send(eventType, data string) error {
	s.broker.Publish(s.stamp(eventType, data))
	return nil
}

// SendTo publishes one event to a single subscriber.
func (s *Stream) SendTo(clientID, eventType, data string) error {
	if !s.broker.PublishToClient(clientID, s.stamp(eventType, data)) {
		return fmt.Errorf("sse: client %s not found or channel full", clientID)
	}
	return nil
}

// Broadcast publishes a plain "message" event.
func (s *Stream) Broadcast(message string) error {
	return s.Send("message", message)
}

// stamp assigns the next namespaced event ID.
func (s *Stream) stamp(eventType, data string) *Event {
	return &Event{
		ID:    fmt.Sprintf("%s-%d", s.namespace, s.eventID.Add(1)),
		Event: eventType,
		Data:  data,
	}
}

// ClientCount reports the broker's live subscriber count.
func (s *Stream) ClientCount() int {
	return s.broker.ClientCount()
}

// Stats reports the broker's counters with the stream's own identity
// folded in.
func (s *Stream) Stats() map[string]interface{} {
	stats := s.broker.Stats()
	stats["namespace"] = s.namespace
	stats["event_id"] = s.eventID.Load()
	return stats
}
