package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashita-ai/keiro/internal/model"
)

// defaultEventBuffer is the per-subscriber channel depth when the configured
// value is not positive.
const defaultEventBuffer = 64

// Broker fans recorded outcomes out to SSE subscribers. Publishing is
// in-process: the outcome handler calls Publish after the engine accepts a
// record, and every active subscriber channel receives the formatted event.
type Broker struct {
	logger  *slog.Logger
	bufSize int

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates an SSE broker whose subscriber channels buffer bufSize
// events each.
func NewBroker(bufSize int, logger *slog.Logger) *Broker {
	if bufSize < 1 {
		bufSize = defaultEventBuffer
	}
	return &Broker{
		logger:      logger,
		bufSize:     bufSize,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts one recorded outcome to all subscribers.
func (b *Broker) Publish(event model.OutcomeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("broker: marshal outcome event", "error", err)
		return
	}
	b.broadcast(formatSSE("outcome", string(payload)))
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, b.bufSize) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to all subscribers. Slow subscribers that have
// a full buffer are skipped (their event is dropped) to prevent one slow
// client from blocking all others.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop this event for them.
		}
	}
}

// formatSSE formats a payload as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
