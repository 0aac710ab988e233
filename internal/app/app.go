package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go-procurement-client/internal/config"
	"go-procurement-client/internal/event"
	"go-procurement-client/internal/httpclient"
	"go-procurement-client/internal/notification"
	"go-procurement-client/internal/realtime"
	"go-procurement-client/internal/session"
	"go-procurement-client/internal/tokenstore"
)

type App struct {
	cfg           *config.Config
	store         *tokenstore.Store
	session       *session.Manager
	api           *httpclient.Client
	bus           event.Bus
	realtime      *realtime.Manager
	notifications *notification.Center
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := tokenstore.New(cfg.TokenDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	sessionManager := session.New(store)

	opts := []httpclient.Option{
		httpclient.WithUnauthorizedHook(sessionManager.ForceLogout),
	}
	if cfg.RequestsPerSecond > 0 {
		opts = append(opts, httpclient.WithRateLimit(cfg.RequestsPerSecond))
	}
	api := httpclient.New(cfg.APIBaseURL, cfg.RequestTimeout, sessionManager, opts...)
	sessionManager.AttachClient(api)

	bus := event.NewBus()
	realtimeManager := realtime.New(realtime.Config{
		BaseURL:     cfg.WSBaseURL,
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxDelay:    cfg.ReconnectMaxDelay,
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}, sessionManager, bus)

	// Logout must close the channel before credentials vanish, so a pending
	// reconnect can never attach a stale identity to a new socket.
	sessionManager.OnTeardown(realtimeManager.Close)

	return &App{
		cfg:           cfg,
		store:         store,
		session:       sessionManager,
		api:           api,
		bus:           bus,
		realtime:      realtimeManager,
		notifications: notification.New(api, cfg.HistoryPageSize),
	}, nil
}

func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hydration happens before the first authenticated call goes out.
	if err := a.session.Hydrate(ctx); err != nil {
		return fmt.Errorf("failed to hydrate session: %w", err)
	}

	if !a.session.IsAuthenticated() && a.cfg.LoginUsername != "" {
		result := a.session.Login(ctx, a.cfg.LoginUsername, a.cfg.LoginPassword)
		if !result.Success {
			return fmt.Errorf("login failed: %s", result.Error)
		}
	}

	if a.session.IsAuthenticated() {
		if err := a.realtime.Open(ctx); err != nil {
			slog.Error("failed to open realtime channel", "error", err)
		}

		if err := a.notifications.LoadInitial(ctx); err != nil {
			slog.Warn("failed to load notification history", "error", err)
		}
		go a.notifications.Run(ctx, a.bus)
		go a.logArrivals(ctx)

		username := "unknown"
		if identity := a.session.Identity(); identity != nil && identity.Username != "" {
			username = identity.Username
		}
		slog.Info("session ready",
			"user", username,
			"unread", a.notifications.Unread())
	} else {
		slog.Info("no stored session, waiting for login")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	a.realtime.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close token store: %w", err)
	}

	slog.Info("client stopped")
	return nil
}

func (a *App) logArrivals(ctx context.Context) {
	messages, unsubscribe := a.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			slog.Info("notification received",
				"id", msg.ID,
				"type", string(msg.Type),
				"title", msg.Title,
				"unread", a.notifications.Unread())
		case <-ctx.Done():
			return
		}
	}
}
