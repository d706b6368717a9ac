package broadcast

import (
	"log/slog"
	"sync"
)

// Observer is one connected dashboard client. Send must be safe for
// concurrent use; the hub serializes nothing across observers.
type Observer interface {
	Send(v interface{}) error
}

// Hub fans events out to the connected observers. A failed delivery is
// skipped, never unregisters the observer: disconnect detection belongs to
// the transport reading the connection, not to delivery.
type Hub struct {
	mu        sync.Mutex
	observers []Observer
	logger    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger}
}

func (h *Hub) Register(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

func (h *Hub) Unregister(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cur := range h.observers {
		if cur == o {
			h.observers = append(h.observers[:i], h.observers[i+1:]...)
			return
		}
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// Broadcast delivers v to every observer in registration order. Per-observer
// order follows Broadcast call order; there is no cross-observer guarantee.
func (h *Hub) Broadcast(v interface{}) {
	h.mu.Lock()
	observers := make([]Observer, len(h.observers))
	copy(observers, h.observers)
	h.mu.Unlock()

	for _, o := range observers {
		if err := o.Send(v); err != nil {
			h.logger.Debug("dropped event for observer", "err", err)
		}
	}
}
