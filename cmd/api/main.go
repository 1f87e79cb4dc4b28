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

	"appointment-confirmer/internal/agent"
	"appointment-confirmer/internal/auth"
	"appointment-confirmer/internal/bridge"
	"appointment-confirmer/internal/campaign"
	"appointment-confirmer/internal/config"
	"appointment-confirmer/internal/history"
	"appointment-confirmer/internal/httpapi"
	"appointment-confirmer/internal/leads"
	"appointment-confirmer/internal/telephony"
	"appointment-confirmer/pkg/logger"
	"appointment-confirmer/pkg/utils"

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

	// Concurrent-call cap is optional; it needs Redis so the cap holds
	// across instances.
	var guard campaign.Guard
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		if cfg.Campaign.MaxConcurrentCalls > 0 {
			guard = campaign.NewRedisGuard(rdb, cfg.Campaign.MaxConcurrentCalls)
		}
	}

	leadStore := leads.NewQuickbaseStore(cfg.Quickbase)
	callHistory := history.NewStore()
	collector := history.NewCollector(callHistory, log)
	go collector.Run(rootCtx)

	provider := telephony.NewTwilioProvider(cfg.Twilio)
	pending := bridge.NewPendingStore()
	retry := campaign.NewRetryQueue(cfg.Campaign.MaxRetries, cfg.Campaign.RetryDelay)

	scheduler := campaign.NewScheduler(cfg.Campaign, provider, cfg.Twilio.FromNumber, campaign.Endpoints{
		VoiceURL:             cfg.App.PublicURL + "/webhooks/voice",
		StatusCallbackURL:    cfg.App.PublicURL + "/webhooks/status",
		RecordingCallbackURL: cfg.App.PublicURL + "/webhooks/recording",
	}, pending, callHistory, retry, guard, log)

	webhooks := telephony.NewWebhookHandler(provider, callHistory, scheduler,
		cfg.StreamURL(), cfg.App.PublicURL, log)

	dialer := agent.NewDialer(cfg.ElevenLabs, log)
	mediaStream := bridge.NewHandler(cfg.ElevenLabs, dialer, pending, collector.C(), log)

	handlers := httpapi.Handlers{
		Auth:        authManager,
		OperatorKey: cfg.Auth.OperatorKey,
		Leads:       leadStore,
		Scheduler:   scheduler,
		Retry:       retry,
		History:     callHistory,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, webhooks, mediaStream, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Recording proxy streams and the media stream upgrade need
		// long-lived writes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
