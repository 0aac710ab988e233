package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go-procurement-client/internal/event"
	"go-procurement-client/internal/httpclient"
	"go-procurement-client/internal/model"
)

// Center merges the REST history baseline and realtime arrivals into one
// newest-first, deduplicated list. It is the only writer of that list; the
// unread counter is always derived from it, never stored.
type Center struct {
	api      *httpclient.Client
	pageSize int

	mu    sync.RWMutex
	items []model.NotificationMessage
}

func New(api *httpclient.Client, pageSize int) *Center {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Center{api: api, pageSize: pageSize}
}

// LoadInitial fetches the history page and replaces the baseline. Messages
// that already arrived over the realtime channel during the fetch are merged
// by id, not duplicated.
func (c *Center) LoadInitial(ctx context.Context) error {
	var fetched []model.NotificationMessage
	path := fmt.Sprintf("/api/v1/notifications/?skip=0&limit=%d", c.pageSize)
	if err := c.api.GetJSON(ctx, path, &fetched); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[int64]struct{}, len(fetched))
	merged := make([]model.NotificationMessage, 0, len(fetched)+len(c.items))
	for _, msg := range fetched {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		merged = append(merged, msg)
	}
	for _, msg := range c.items {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		merged = append(merged, msg)
	}

	sortNewestFirst(merged)
	c.items = merged
	return nil
}

// OnRealtimeArrival inserts a pushed message unless its id is already known.
// An id seen via both the REST fetch and the push path stays a single entry.
func (c *Center) OnRealtimeArrival(msg model.NotificationMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOf(msg.ID) >= 0 {
		return
	}

	c.items = append(c.items, msg)
	sortNewestFirst(c.items)
}

// MarkRead flips the local flag, then confirms against the backend. On
// confirmation failure the flip is kept and the error returned; the next
// LoadInitial reconciles with server truth.
func (c *Center) MarkRead(ctx context.Context, id int64) error {
	c.mu.Lock()
	i := c.indexOf(id)
	if i < 0 {
		c.mu.Unlock()
		return model.ErrNotificationNotFound
	}
	c.items[i].Read = true
	c.mu.Unlock()

	if err := c.api.PutJSON(ctx, fmt.Sprintf("/api/v1/notifications/%d/read", id), nil); err != nil {
		slog.Warn("mark-read confirmation failed", "id", id, "error", err)
		return err
	}

	return nil
}

// MarkAllRead flips every flag locally, then confirms. Same keep-on-failure
// policy as MarkRead.
func (c *Center) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	for i := range c.items {
		c.items[i].Read = true
	}
	c.mu.Unlock()

	if err := c.api.PutJSON(ctx, "/api/v1/notifications/read-all", nil); err != nil {
		slog.Warn("mark-all-read confirmation failed", "error", err)
		return err
	}

	return nil
}

// Delete removes the message locally and confirms against the backend.
func (c *Center) Delete(ctx context.Context, id int64) error {
	c.mu.Lock()
	i := c.indexOf(id)
	if i < 0 {
		c.mu.Unlock()
		return model.ErrNotificationNotFound
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.mu.Unlock()

	if err := c.api.Delete(ctx, fmt.Sprintf("/api/v1/notifications/%d", id)); err != nil {
		slog.Warn("delete confirmation failed", "id", id, "error", err)
		return err
	}

	return nil
}

// Notifications returns a copy of the list, newest first.
func (c *Center) Notifications() []model.NotificationMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.NotificationMessage, len(c.items))
	copy(out, c.items)
	return out
}

// Unread is derived from the list on every call so it can never drift.
func (c *Center) Unread() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, msg := range c.items {
		if !msg.Read {
			count++
		}
	}
	return count
}

// Run applies realtime arrivals from the bus until the context ends.
func (c *Center) Run(ctx context.Context, bus event.Bus) {
	messages, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.OnRealtimeArrival(msg)
		case <-ctx.Done():
			return
		}
	}
}

// indexOf requires c.mu held.
func (c *Center) indexOf(id int64) int {
	for i, msg := range c.items {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func sortNewestFirst(items []model.NotificationMessage) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}
