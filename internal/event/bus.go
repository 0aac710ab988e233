package event

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"go-procurement-client/internal/model"
)

// Bus fans validated realtime messages out to subscribers. The realtime
// manager is the only publisher; it must never block on a slow consumer.
type Bus interface {
	Publish(msg model.NotificationMessage)
	Subscribe() (<-chan model.NotificationMessage, func())
}

type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan model.NotificationMessage
}

func NewBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string]chan model.NotificationMessage),
	}
}

func (b *InMemoryBus) Publish(msg model.NotificationMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			// Subscriber buffer full; drop rather than stall the channel.
			slog.Warn("dropping realtime message for slow subscriber", "id", msg.ID)
		}
	}
}

func (b *InMemoryBus) Subscribe() (<-chan model.NotificationMessage, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan model.NotificationMessage, 100) // buffer absorbs bursts
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, exists := b.subscribers[id]; exists {
			close(ch)
			delete(b.subscribers, id)
		}
	}

	return ch, unsubscribe
}
