package channel

import (
	"sync"

	"github.com/npezzotti/go-chatroom/internal/broker"
)

// FeedSession subscribes a connection to room lifecycle events. It has no
// presence semantics.
type FeedSession struct {
	conn   broker.Subscriber
	topics Subscriptions

	mu  sync.Mutex
	sub *broker.Subscription
}

func NewFeedSession(conn broker.Subscriber, topics Subscriptions) *FeedSession {
	return &FeedSession{conn: conn, topics: topics}
}

func (f *FeedSession) Subscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sub == nil {
		f.sub = f.topics.Subscribe(RoomsTopic, f.conn)
	}
}

func (f *FeedSession) Unsubscribe() {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()

	sub.Unsubscribe()
}

func (f *FeedSession) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub != nil
}
