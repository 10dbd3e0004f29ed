// Package events provides a small in-process publish/subscribe bus for
// transfer lifecycle notifications. Handlers are plain function values
// registered explicitly at startup.
package events

import (
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

// Name identifies an event on the bus.
type Name string

const (
	TransferInitiated          Name = "transfer.initiated"
	TransferCompleted          Name = "transfer.completed"
	TransferFailed             Name = "transfer.failed"
	OrderCompletedNotification Name = "order.completed"
)

// Handler receives the event payload. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(payload interface{})

// Bus dispatches published events to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Name][]Handler)}
}

// Subscribe registers a handler for an event name.
func (b *Bus) Subscribe(name Name, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Publish delivers the payload to every handler registered for the name, in
// subscription order. A panicking handler is recovered and logged so one bad
// subscriber cannot break the publisher.
func (b *Bus) Publish(name Name, payload interface{}) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("[Events] handler for %s panicked: %v", name, r)
				}
			}()
			handler(payload)
		}()
	}
}

// Global default bus
var (
	defaultBus  *Bus
	defaultOnce sync.Once
)

// Default returns the process-wide bus instance.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = NewBus()
	})
	return defaultBus
}

// Subscribe registers a handler on the default bus.
func Subscribe(name Name, handler Handler) {
	Default().Subscribe(name, handler)
}

// Publish publishes on the default bus.
func Publish(name Name, payload interface{}) {
	Default().Publish(name, payload)
}
