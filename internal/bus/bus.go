// Package bus is the in-process notification fabric: typed topics, fan-out
// to interested subscriptions, and an AMQP relay for off-process consumers.
//
// The contract is at-least-once with no cross-topic ordering, except that
// one subscription sees all events it covers in publish order. Events for a
// single ticket are published under that ticket's critical section, so a
// subscriber always sees ticket-created before any items-ready before
// order-ready for the same ticket.
package bus

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"tableserve/internal/domain"
)

const defaultBuffer = 64

type Subscription struct {
	topics map[domain.Topic]struct{}
	ch     chan domain.Event

	closeOnce sync.Once
	done      chan struct{}
}

type Bus struct {
	mu   sync.RWMutex
	subs []*Subscription
	log  *log.Entry
}

func New(lg *log.Entry) *Bus {
	return &Bus{log: lg}
}

// Subscribe registers interest in the given topics (all topics when none are
// given). The subscriber must drain Events until it calls Close.
func (b *Bus) Subscribe(topics ...domain.Topic) *Subscription {
	if len(topics) == 0 {
		topics = domain.AllTopics()
	}
	s := &Subscription{
		topics: make(map[domain.Topic]struct{}, len(topics)),
		ch:     make(chan domain.Event, defaultBuffer),
		done:   make(chan struct{}),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Publish delivers ev to every live subscription covering its topic. A send
// blocks when a subscriber's buffer is full rather than dropping: delivery
// is at-least-once, never best-effort.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if _, ok := s.topics[ev.Topic()]; !ok {
			continue
		}
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
	if b.log != nil {
		b.log.WithFields(log.Fields{
			"action":   "event_published",
			"topic":    string(ev.Topic()),
			"event_id": ev.EventID().String(),
		}).Debug("event published")
	}
}

func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Close releases the subscription. Publishers stop delivering to it; any
// buffered events are discarded when the consumer stops reading.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Gc drops closed subscriptions from the fan-out list.
func (b *Bus) Gc() {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.subs[:0]
	for _, s := range b.subs {
		select {
		case <-s.done:
		default:
			live = append(live, s)
		}
	}
	b.subs = live
}
