package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-procurement-client/internal/model"
)

func TestBusPublishSubscribe(t *testing.T) {
	t.Parallel()

	t.Run("delivers to every subscriber", func(t *testing.T) {
		bus := NewBus()

		first, cancelFirst := bus.Subscribe()
		defer cancelFirst()
		second, cancelSecond := bus.Subscribe()
		defer cancelSecond()

		msg := model.NotificationMessage{ID: 1, Type: model.NotificationInfo, Title: "hello"}
		bus.Publish(msg)

		require.Equal(t, msg, <-first)
		require.Equal(t, msg, <-second)
	})

	t.Run("unsubscribe closes the channel", func(t *testing.T) {
		bus := NewBus()

		messages, cancel := bus.Subscribe()
		cancel()

		_, open := <-messages
		require.False(t, open)

		// Publishing after unsubscribe must not panic.
		bus.Publish(model.NotificationMessage{ID: 2, Type: model.NotificationInfo})
	})

	t.Run("slow subscriber does not block the publisher", func(t *testing.T) {
		bus := NewBus()

		_, cancel := bus.Subscribe()
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			// Overfill the subscriber buffer; extra messages are dropped.
			for i := 0; i < 300; i++ {
				bus.Publish(model.NotificationMessage{ID: int64(i + 1), Type: model.NotificationInfo})
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("publisher blocked on a slow subscriber")
		}
	})
}
