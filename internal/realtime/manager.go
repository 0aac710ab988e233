package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"go-procurement-client/internal/event"
	"go-procurement-client/internal/model"
)

// Session is the read-only view of the auth session the channel needs. The
// credential is read fresh on every dial so a re-login picks up the new token.
type Session interface {
	IsAuthenticated() bool
	Credential() string
	Identity() *model.SessionIdentity
}

type Config struct {
	BaseURL     string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Manager owns the single duplex connection for the session: connect,
// reconnect with capped exponential backoff, frame validation, republish.
// Close cancels any parked backoff timer; a reconnect can never fire after
// teardown, and a stale run goroutine can never publish state for a newer one.
type Manager struct {
	cfg     Config
	session Session
	bus     event.Bus
	dialer  *websocket.Dialer

	mu         sync.Mutex
	status     Status
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}

	reconnects atomic.Int64
}

func New(cfg Config, session Session, bus event.Bus) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}

	return &Manager{
		cfg:     cfg,
		session: session,
		bus:     bus,
		dialer:  websocket.DefaultDialer,
	}
}

// Open starts the channel for the current session identity. Opening an
// already-open channel is a no-op: at most one connection exists per session.
func (m *Manager) Open(ctx context.Context) error {
	if !m.session.IsAuthenticated() {
		return model.ErrNotAuthenticated
	}

	identity := m.session.Identity()
	if identity == nil || identity.ID == "" {
		return model.ErrNotAuthenticated
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.generation++
	gen := m.generation
	done := make(chan struct{})
	m.done = done
	m.status = Status{State: Connecting}
	m.mu.Unlock()

	go m.run(runCtx, gen, done, identity.ID)
	return nil
}

// Close tears the channel down and waits for the run goroutine to exit. A
// parked backoff timer is cancelled, not left to fire. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Reconnects counts scheduled reconnect attempts over the manager's lifetime.
func (m *Manager) Reconnects() int64 {
	return m.reconnects.Load()
}

func (m *Manager) setStatus(gen uint64, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A goroutine from a previous Open must not touch the current state.
	if gen != m.generation {
		return
	}
	m.status = status
}

// giveUp releases the lifecycle slot when the run goroutine stops retrying on
// its own, so a later Open starts a fresh connection instead of hitting the
// already-open guard.
func (m *Manager) giveUp(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel, m.done = nil, nil
}

func (m *Manager) run(ctx context.Context, gen uint64, done chan struct{}, userID string) {
	defer close(done)
	defer m.setStatus(gen, Status{State: Disconnected})

	attempt := 0
	delay := m.cfg.BaseDelay

	for {
		conn, err := m.dial(ctx, userID)
		if err == nil {
			slog.Info("realtime channel connected", "user", userID)
			m.setStatus(gen, Status{State: Connected})
			attempt = 0
			delay = m.cfg.BaseDelay

			readErr := m.readLoop(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			slog.Warn("realtime channel closed unexpectedly", "error", readErr)
		} else {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("realtime dial failed", "error", err)
		}

		attempt++
		if attempt > m.cfg.MaxAttempts {
			slog.Error("realtime reconnect ceiling reached, giving up", "attempts", m.cfg.MaxAttempts)
			m.giveUp(gen)
			return
		}

		m.reconnects.Add(1)
		m.setStatus(gen, Status{State: Reconnecting, Attempt: attempt, Delay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		m.setStatus(gen, Status{State: Connecting, Attempt: attempt})

		delay *= 2
		if delay > m.cfg.MaxDelay {
			delay = m.cfg.MaxDelay
		}
	}
}

func (m *Manager) dial(ctx context.Context, userID string) (*websocket.Conn, error) {
	credential := m.session.Credential()
	if credential == "" {
		return nil, model.ErrNoCredential
	}

	u, err := url.Parse(m.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + userID
	query := u.Query()
	query.Set("token", credential)
	u.RawQuery = query.Encode()

	conn, resp, err := m.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}

	return conn, nil
}

// readLoop reads frames until the connection drops or the context ends. A
// frame that fails validation is dropped and logged; the connection stays up.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close() // unblocks ReadMessage
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg model.NotificationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("dropping malformed realtime frame", "error", err)
			continue
		}
		if msg.ID == 0 || !msg.Type.Valid() {
			slog.Warn("dropping unrecognized realtime frame", "id", msg.ID, "type", string(msg.Type))
			continue
		}

		m.bus.Publish(msg)
	}
}
