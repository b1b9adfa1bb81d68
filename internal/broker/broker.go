// Package broker fans published payloads out to the connections subscribed
// to a topic. It knows nothing about rooms or presence.
package broker

import (
	"sync"
)

// Subscriber receives payloads published to the topics it is subscribed to.
// Deliver is called while the topic is locked and must not block.
type Subscriber interface {
	Deliver(topic string, payload []byte)
}

// Publisher is the publishing side of a broker. The local Broker and the
// NATSRelay both implement it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type topic struct {
	mu   sync.Mutex
	subs map[Subscriber]*Subscription
}

// Broker is an in-memory publish/subscribe fan-out. Publishes to one topic
// are serialized, so each subscriber observes them in publish order.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

func New() *Broker {
	return &Broker{topics: make(map[string]*topic)}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	broker *Broker
	topic  string
	sub    Subscriber
	once   sync.Once
}

func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe removes the subscription. It is safe to call more than once
// and on a nil handle.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

// Subscribe registers sub as a listener of name. Subscribing the same
// subscriber twice returns the existing handle.
func (b *Broker) Subscribe(name string, sub Subscriber) *Subscription {
	for {
		t := b.getOrCreate(name)

		t.mu.Lock()
		if t.subs == nil {
			// the topic was dropped by a concurrent remove
			t.mu.Unlock()
			continue
		}
		if existing, ok := t.subs[sub]; ok {
			t.mu.Unlock()
			return existing
		}
		s := &Subscription{broker: b, topic: name, sub: sub}
		t.subs[sub] = s
		t.mu.Unlock()

		return s
	}
}

// Unsubscribe is equivalent to s.Unsubscribe().
func (b *Broker) Unsubscribe(s *Subscription) {
	s.Unsubscribe()
}

// Publish delivers payload to every subscriber of name at the time of the
// call. It never fails; the error return satisfies Publisher.
func (b *Broker) Publish(name string, payload []byte) error {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for sub := range t.subs {
		sub.Deliver(name, payload)
	}

	return nil
}

// Subscribers returns the number of subscribers of name.
func (b *Broker) Subscribers(name string) int {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Topics returns the number of topics with at least one subscriber.
func (b *Broker) Topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

func (b *Broker) getOrCreate(name string) *topic {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[name]; ok {
		return t
	}
	t = &topic{subs: make(map[Subscriber]*Subscription)}
	b.topics[name] = t
	return t
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[s.topic]
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.subs[s.sub]; ok && cur == s {
		delete(t.subs, s.sub)
	}
	if len(t.subs) == 0 {
		t.subs = nil
		delete(b.topics, s.topic)
	}
}
