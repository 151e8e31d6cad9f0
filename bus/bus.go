// Package bus implements the cross-tab broadcast channel: a process-wide,
// unordered, best-effort multicast shared by every tab of the same client.
// Delivery is fire-and-forget, at most once per receiver.
package bus

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"
)

// subscriberBuffer bounds each receiver; a full receiver drops envelopes
// rather than blocking the sender.
const subscriberBuffer = 64

// Bus fans envelopes out to every subscribed tab.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Envelope
	closed      bool
}

// New instantiates a bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every published envelope. The
// channel is buffered so slow receivers never block publishers.
func (b *Bus) Subscribe() <-chan Envelope {
	ch := make(chan Envelope, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Bus) Unsubscribe(ch <-chan Envelope) {
	if ch == nil {
		return
	}
	target := reflect.ValueOf(ch).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, subscriber := range b.subscribers {
		if reflect.ValueOf(subscriber).Pointer() == target {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(subscriber)
			break
		}
	}
}

// Publish delivers an envelope to every subscriber, the sender's own
// subscription included; receivers are responsible for discarding their own
// origin. Missing timestamps are stamped at publish time. Payloads cross the
// channel by value: each receiver gets its own decoded copy, never an alias
// of the sender's records.
func (b *Bus) Publish(envelope Envelope) {
	if envelope.Timestamp == 0 {
		envelope.Timestamp = time.Now().UnixMilli()
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, subscriber := range b.subscribers {
		var copied Envelope
		if err := json.Unmarshal(encoded, &copied); err != nil {
			return
		}
		select {
		case subscriber <- copied:
		default: // Drop if the receiver is full.
		}
	}
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subscriber := range b.subscribers {
		close(subscriber)
	}
	b.subscribers = nil
}
