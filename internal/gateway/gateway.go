// ABOUTME: Top-level assembly wiring store, services, channels and admin API
// ABOUTME: Run blocks until the context is cancelled, then tears down in order

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/hearth-gateway/internal/auth"
	"github.com/2389/hearth-gateway/internal/channel"
	"github.com/2389/hearth-gateway/internal/config"
	"github.com/2389/hearth-gateway/internal/events"
	"github.com/2389/hearth-gateway/internal/history"
	"github.com/2389/hearth-gateway/internal/httpapi"
	"github.com/2389/hearth-gateway/internal/linking"
	"github.com/2389/hearth-gateway/internal/pairing"
	"github.com/2389/hearth-gateway/internal/ratelimit"
	"github.com/2389/hearth-gateway/internal/store"
)

const (
	defaultJanitorInterval = time.Hour
	shutdownTimeout        = 10 * time.Second
)

// Gateway owns every long-lived component of the process.
type Gateway struct {
	config      *config.Config
	logger      *slog.Logger
	store       *store.SQLiteStore
	broadcaster *events.Broadcaster
	manager     *channel.Manager
	processor   *Processor
	router      *Router
	httpServer  *http.Server
}

// New constructs a gateway from configuration. Nothing is connected yet;
// Run performs the actual startup.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	broadcaster := events.NewBroadcaster(logger)
	manager := channel.NewManager(broadcaster, logger)

	pairingSvc := pairing.NewService(st, broadcaster, broadcaster, pairing.Config{
		DenialCooldown:      cfg.Pairing.DenialCooldown,
		AutoApproveExisting: cfg.Pairing.AutoApproveExisting,
		AutoReplyUnknown:    cfg.Pairing.AutoReplyUnknown,
	}, logger)

	linker := linking.NewLinker(st, logger)

	historySvc := history.NewService(st, history.Config{
		MaxMessages: cfg.History.MaxMessages,
		TTL:         cfg.History.TTL,
	}, logger)

	limiter := ratelimit.NewLimiter(st, broadcaster, broadcaster, ratelimit.Config{
		Window:      cfg.RateLimit.Window,
		MaxMessages: cfg.RateLimit.MaxMessages,
	}, logger)

	processor := NewProcessor(pairingSvc, linker, historySvc, limiter, st, broadcaster, broadcaster, logger)
	router := NewRouter(manager, processor, logger)
	processor.SetSender(router)

	gw := &Gateway{
		config:      cfg,
		logger:      logger,
		store:       st,
		broadcaster: broadcaster,
		manager:     manager,
		processor:   processor,
		router:      router,
	}

	if err := gw.registerChannels(); err != nil {
		st.Close()
		return nil, err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	api := httpapi.NewServer(pairingSvc, manager, st, verifier, logger)

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	if wa := gw.whatsappChannel(); wa != nil {
		mux.Handle("/webhooks/whatsapp", wa.WebhookHandler())
	}

	gw.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}
	return gw, nil
}

// registerChannels builds and registers the adapters enabled in config.
func (g *Gateway) registerChannels() error {
	cfg := g.config.Channels

	if cfg.WhatsApp.Enabled {
		wa := channel.NewWhatsAppChannel(channel.WhatsAppConfig{
			BridgeURL: cfg.WhatsApp.BridgeURL,
			APIKey:    cfg.WhatsApp.APIKey,
			Logger:    g.logger,
		})
		if err := g.manager.Register(wa); err != nil {
			return fmt.Errorf("registering whatsapp: %w", err)
		}
	}
	if cfg.Telegram.Enabled {
		tg := channel.NewTelegramChannel(channel.TelegramConfig{
			Token:  cfg.Telegram.BotToken,
			Logger: g.logger,
		})
		if err := g.manager.Register(tg); err != nil {
			return fmt.Errorf("registering telegram: %w", err)
		}
	}
	if cfg.Matrix.Enabled {
		mx := channel.NewMatrixChannel(channel.MatrixConfig{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Logger:      g.logger,
		})
		if err := g.manager.Register(mx); err != nil {
			return fmt.Errorf("registering matrix: %w", err)
		}
	}
	return nil
}

// whatsappChannel returns the registered WhatsApp adapter, nil when absent.
func (g *Gateway) whatsappChannel() *channel.WhatsAppChannel {
	ch, err := g.manager.Get("whatsapp")
	if err != nil {
		return nil
	}
	wa, ok := ch.(*channel.WhatsAppChannel)
	if !ok {
		return nil
	}
	return wa
}

// Run connects channels, installs routes and serves the admin API until
// ctx is cancelled, then tears everything down in reverse order.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting hearth-gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"database", g.config.Database.Path,
	)

	if err := g.manager.ConnectAll(ctx); err != nil {
		// Partial connectivity is survivable; the status API shows what failed.
		g.logger.Warn("some channels failed to connect", "error", err)
	}
	g.router.SetupRoutes()

	janitorInterval := g.config.Database.JanitorInterval
	if janitorInterval <= 0 {
		janitorInterval = defaultJanitorInterval
	}
	go g.store.RunJanitor(ctx, janitorInterval)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("admin api listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
		g.logger.Error("http server failed", "error", err)
	}

	if err := g.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown tears down with a fresh context so a cancelled Run context
// cannot abort cleanup.
func (g *Gateway) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	g.router.RemoveRoutes()
	if err := g.manager.DisconnectAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnect channels: %w", err))
	}

	g.broadcaster.Close()
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}
