// Package notify is the in-process change-notification broker. Panel and
// settings surfaces subscribe to learn about session, deny-list, and
// time-bucket mutations; cross-instance signalling goes through the durable
// store instead, so the broker never leaves the process.
package notify

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Event types published by the controller.
const (
	EventSession    = "session"
	EventDenyList   = "denylist"
	EventTimeBucket = "timebucket"
)

// Event is one change notification.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Subscriber receives events on a buffered channel. A subscriber that
// falls behind has events dropped rather than blocking the publisher.
type Subscriber struct {
	Events chan Event
	Done   chan struct{}
}

// Broker fans events out to subscribers.
type Broker struct {
	mu   sync.RWMutex
	subs map[*Subscriber]bool
	log  zerolog.Logger
}

// NewBroker constructs a Broker.
func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{
		subs: make(map[*Subscriber]bool),
		log:  log,
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() *Subscriber {
	sub := &Subscriber{
		Events: make(chan Event, 64),
		Done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = true
	count := len(b.subs)
	b.mu.Unlock()

	b.log.Debug().Int("subscribers", count).Msg("notification subscriber added")
	return sub
}

// Unsubscribe removes a subscriber and closes its Done channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.Done)
}

// Publish delivers an event to every subscriber. Non-blocking: slow
// subscribers lose events.
func (b *Broker) Publish(eventType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.log.Warn().Err(err).Str("type", eventType).Msg("drop notification: marshal failed")
		return
	}
	ev := Event{Type: eventType, Data: raw}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.Events <- ev:
		default:
			b.log.Debug().Str("type", eventType).Msg("notification dropped: subscriber behind")
		}
	}
}
