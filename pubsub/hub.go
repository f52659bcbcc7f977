// Package pubsub fans JSON events out to in-process subscribers and
// WebSocket clients. Delivery is best-effort: a subscriber that cannot keep
// up loses messages instead of slowing the publisher down.
package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/papertrade/internal/logging"
)

// DefaultBuffer is the per-subscriber queue length used by ServeWS.
const DefaultBuffer = 16

var ErrClosed = errors.New("hub closed")

// Publisher delivers a payload to everyone subscribed to topic.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Subscription receives encoded messages for one topic until Close.
type Subscription struct {
	C <-chan []byte

	hub   *Hub
	topic string
	id    uint64
	ch    chan []byte
	once  sync.Once
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is a topic keyed Publisher.
type Hub struct {
	log logrus.FieldLogger

	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription
	nextID uint64
	closed bool
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:    logging.OrDiscard(log),
		topics: make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe registers a new subscriber on topic with a queue of buffer
// messages. A buffer below 1 is raised to 1.
func (h *Hub) Subscribe(topic string, buffer int) (*Subscription, error) {
	if buffer < 1 {
		buffer = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("subscribe %s: %w", topic, ErrClosed)
	}

	h.nextID++
	ch := make(chan []byte, buffer)
	sub := &Subscription{C: ch, hub: h, topic: topic, id: h.nextID, ch: ch}

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	return sub, nil
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[s.topic]
	if _, ok := subs[s.id]; !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(h.topics, s.topic)
	}
	close(s.ch)
}

// Publish encodes payload once and offers it to each subscriber without
// blocking.
func (h *Hub) Publish(topic string, payload any) error {
	msg, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish %s: encode: %w", topic, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return fmt.Errorf("publish %s: %w", topic, ErrClosed)
	}

	for _, sub := range h.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			h.log.WithFields(logrus.Fields{
				"topic":      topic,
				"subscriber": sub.id,
			}).Debug("subscriber queue full, message dropped")
		}
	}
	return nil
}

// Subscribers reports how many subscribers topic has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close drops every subscriber and rejects further use.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for id, sub := range subs {
			delete(subs, id)
			close(sub.ch)
		}
		delete(h.topics, topic)
	}
}
