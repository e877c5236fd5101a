// Package memory provides an in-process job event broker. It suits tests and
// single-node deployments where events do not need to outlive the process.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
)

var _ tracking.JobEventPublisher = (*Broker)(nil)

// Broker fans each published job event out to every subscribed handler and
// keeps a bounded history of recent events.
type Broker struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]func(tracking.JobEvent) error

	history    []tracking.JobEvent
	maxHistory int
}

// defaultHistory bounds Recent when NewBroker is given a non-positive size.
const defaultHistory = 100

// NewBroker creates a broker that remembers the last historySize events.
func NewBroker(historySize int) *Broker {
	if historySize <= 0 {
		historySize = defaultHistory
	}
	return &Broker{
		handlers:   make(map[uint64]func(tracking.JobEvent) error),
		maxHistory: historySize,
	}
}

// Subscribe registers handler until ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, handler func(tracking.JobEvent) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()

	return nil
}

// PublishJobEvent records evt and delivers it to every handler, stopping at
// the first handler error.
func (b *Broker) PublishJobEvent(ctx context.Context, evt tracking.JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.history = append(b.history, evt)
	if over := len(b.history) - b.maxHistory; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
	// Copy so handlers run without the lock held.
	handlers := make([]func(tracking.JobEvent) error, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(evt); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns the retained events, oldest first.
func (b *Broker) Recent() []tracking.JobEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]tracking.JobEvent, len(b.history))
	copy(out, b.history)
	return out
}
