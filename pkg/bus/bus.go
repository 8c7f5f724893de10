// Package bus is the publish/subscribe fabric that ties the sorter, the bin
// monitor and the vision loop together.
package bus

import (
	"errors"
	"sync"
)

var (
	ErrClosed         = errors.New("bus closed")
	ErrPublishTimeout = errors.New("publish timed out")
)

// Handler receives one message.  Handlers run on the transport's delivery
// goroutine and must not block for long.
type Handler func(topic, payload string)

type Interface interface {
	Publish(topic, payload string) error
	// Subscribe registers h for topic.  Subscriptions survive reconnects.
	Subscribe(topic string, h Handler) error
	Close()
}

// Message is a published message as recorded by Memory.
type Message struct {
	Topic   string
	Payload string
}

// Memory is an in-process bus.  Publish delivers synchronously to the
// subscribers of the exact topic and records every message.
type Memory struct {
	lock      sync.Mutex
	closed    bool
	handlers  map[string][]Handler
	published []Message
}

func NewMemory() *Memory {
	return &Memory{
		handlers: map[string][]Handler{},
	}
}

var _ Interface = (*Memory)(nil)

func (m *Memory) Publish(topic, payload string) error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return ErrClosed
	}
	m.published = append(m.published, Message{Topic: topic, Payload: payload})
	hs := append([]Handler(nil), m.handlers[topic]...)
	m.lock.Unlock()

	for _, h := range hs {
		h(topic, payload)
	}
	return nil
}

func (m *Memory) Subscribe(topic string, h Handler) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.handlers[topic] = append(m.handlers[topic], h)
	return nil
}

func (m *Memory) Close() {
	m.lock.Lock()
	m.closed = true
	m.lock.Unlock()
}

// Published returns a copy of everything published so far.
func (m *Memory) Published() []Message {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]Message(nil), m.published...)
}

// PublishedOn returns the payloads published on one topic, in order.
func (m *Memory) PublishedOn(topic string) []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	var out []string
	for _, msg := range m.published {
		if msg.Topic == topic {
			out = append(out, msg.Payload)
		}
	}
	return out
}
