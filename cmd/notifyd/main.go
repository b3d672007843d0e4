package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eternisai/enchanted-notify/internal/auth"
	"github.com/eternisai/enchanted-notify/internal/backend"
	"github.com/eternisai/enchanted-notify/internal/config"
	"github.com/eternisai/enchanted-notify/internal/deeplink"
	"github.com/eternisai/enchanted-notify/internal/events"
	"github.com/eternisai/enchanted-notify/internal/hub"
	"github.com/eternisai/enchanted-notify/internal/logger"
	"github.com/eternisai/enchanted-notify/internal/session"
	"github.com/eternisai/enchanted-notify/internal/status"
	"github.com/eternisai/enchanted-notify/internal/store"
	"github.com/eternisai/enchanted-notify/internal/ticker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/oauth2"
)

// tokenStore is what the daemon needs from either token store.
type tokenStore interface {
	auth.TokenStore
	status.TokenWriter
}

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	slog.SetDefault(log.Logger)

	log.Info("setting gin mode", slog.String("mode", cfg.GinMode))
	gin.SetMode(cfg.GinMode)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := hub.NewMetrics(reg)

	tokens := newTokenStore(cfg)
	if cfg.AccessToken != "" {
		tokens.Set(cfg.AccessToken, cfg.RefreshToken)
	}

	transport, err := hub.NewWebSocketTransport(hub.WebSocketOptions{
		URL:              cfg.HubURL,
		EventName:        cfg.HubEventName,
		PingInterval:     cfg.HubPingInterval,
		HandshakeTimeout: cfg.HubHandshakeTimeout,
	}, log)
	if err != nil {
		log.Error("failed to configure hub transport", slog.String("error", err.Error()))
		os.Exit(1)
	}

	bus := events.NewBus(log)
	broadcasters := events.Fanout{bus}

	var nc *nats.Conn
	var relay *events.Relay
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL,
			nats.Name("enchanted-notify-"+logger.GetInstanceID()),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Warn("NATS unavailable, change events stay local", slog.String("error", err.Error()))
		} else {
			broadcasters = append(broadcasters, events.NewNATSBroadcaster(nc, logger.GetInstanceID(), log))
			relay = events.NewRelay(nc, bus, logger.GetInstanceID(), log)
			if err := relay.Start(); err != nil {
				log.Warn("failed to start change relay", slog.String("error", err.Error()))
				relay = nil
			}
		}
	}

	network := hub.NewNetworkMonitor(true)

	controller := session.NewController(session.Config{
		RefreshLookahead: cfg.TokenRefreshLookahead,
		Backoff: hub.BackoffPolicy{
			FastWindow: cfg.BackoffFastWindow,
			MaxJitter:  cfg.BackoffMaxJitter,
			SlowDelay:  cfg.BackoffSlowDelay,
		},
		Store: store.Options{
			Capacity:      cfg.StoreCapacity,
			FallbackCount: cfg.BootstrapFallbackCount,
			PageSize:      cfg.BootstrapPageSize,
		},
		Ticker: ticker.Config{
			RotationInterval: cfg.Ticker.RotationInterval.Std(),
			FadeDuration:     cfg.Ticker.FadeDuration.Std(),
			ForceOpenWindow:  cfg.Ticker.ForceOpenWindow.Std(),
		},
		Paths: cfg.Routes,
	}, session.Dependencies{
		Tokens:    tokens,
		Transport: transport,
		NewFetcher: func(source auth.TokenSource) store.Fetcher {
			return backend.NewClient(cfg.APIBaseURL, source, log)
		},
		Navigator:    deeplink.LogNavigator{Logger: log},
		Broadcaster:  broadcasters,
		Connectivity: network,
		Metrics:      metrics,
	}, log)

	if cfg.AccessToken != "" {
		if err := controller.SetAuthenticated(context.Background(), true); err != nil {
			log.Error("failed to start notification session", slog.String("error", err.Error()))
		}
	} else {
		log.Info("no access token configured, waiting for POST /api/v1/session")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(status.RequestLogging(log))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	status.Register(router, status.NewHandler(controller, tokens, network, bus, log), cfg.ControlToken)

	addr := cfg.Host + ":" + cfg.Port
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", status.RequestIDHeader},
		ExposedHeaders: []string{status.RequestIDHeader},
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	log.Info("🔔 notify daemon listening",
		slog.String("addr", addr),
		slog.String("hub_url", cfg.HubURL),
		slog.String("api_url", cfg.APIBaseURL),
		slog.Bool("nats", nc != nil),
		slog.String("instance_id", logger.GetInstanceID()))

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("🛑 shutting down notify daemon...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := controller.SetAuthenticated(ctx, false); err != nil {
		log.Warn("notification session did not stop cleanly", slog.String("error", err.Error()))
	}

	if relay != nil {
		if err := relay.Stop(); err != nil {
			log.Warn("failed to stop change relay", slog.String("error", err.Error()))
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			log.Warn("failed to drain NATS connection", slog.String("error", err.Error()))
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("✅ notify daemon exited")
}

// newTokenStore picks the OAuth2 refresh grant when a token endpoint is
// configured, otherwise a plain in-memory store that cannot refresh.
func newTokenStore(cfg *config.Config) tokenStore {
	if cfg.OAuthTokenURL == "" {
		return auth.NewMemoryStore(nil)
	}

	return auth.NewOAuth2Store(&oauth2.Config{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.OAuthTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil)
}
