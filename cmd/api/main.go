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

	"callkit-bridge/internal/audit"
	"callkit-bridge/internal/auth"
	"callkit-bridge/internal/bridge"
	"callkit-bridge/internal/callstate"
	"callkit-bridge/internal/config"
	"callkit-bridge/internal/events"
	"callkit-bridge/internal/httpapi"
	"callkit-bridge/internal/presenter"
	"callkit-bridge/internal/push"
	"callkit-bridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	store, closeStore, err := callstate.OpenStore(rootCtx, cfg)
	if err != nil {
		log.Error("store init failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer closeStore()
	log.Info("call store ready", "driver", cfg.Store.Driver)

	hub := events.NewHub(cfg.Events.Buffer, log)
	auditSvc := audit.NewService(audit.NewMemoryRepo())
	pres := presenter.New(presenter.Options{RingTimeout: cfg.Presenter.RingTimeout, Logger: log})

	registry, err := callstate.NewRegistry(store,
		callstate.WithNotifier(hub),
		callstate.WithPresenter(pres),
		callstate.WithRecorder(auditSvc),
		callstate.WithLogger(log),
	)
	if err != nil {
		log.Error("registry init failed", "err", err)
		os.Exit(1)
	}
	pres.SetOnTimeout(func(ctx context.Context, callID string) {
		ended, err := registry.ExpireRinging(ctx, callID)
		if err != nil && !errors.Is(err, callstate.ErrClosed) {
			log.Warn("ring timeout end failed", "call_id", callID, "err", err)
			return
		}
		if !ended {
			log.Info("ring timeout ignored, call no longer pending", "call_id", callID)
		}
	})

	dispatcher, err := bridge.NewDispatcher(registry, pres, hub, log)
	if err != nil {
		log.Error("bridge init failed", "err", err)
		os.Exit(1)
	}
	receiver, err := push.NewReceiver(registry, hub, log)
	if err != nil {
		log.Error("push init failed", "err", err)
		os.Exit(1)
	}

	h := httpapi.Handlers{
		Auth:       authManager,
		Dispatcher: dispatcher,
		Hub:        hub,
		Audit:      auditSvc,
		Ready:      registry.Ping,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, h, push.WebhookHandler{Receiver: receiver}, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /v1/events is a long-lived websocket.
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "bootstrap", authManager.BootstrapEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Closing the hub ends websocket streams, which Shutdown does not wait for.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	pres.Close()
	registry.Close()
}
