package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/cache"
	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/handler"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/queue"
	"github.com/iliyamo/auth-service/internal/router"
	"github.com/iliyamo/auth-service/internal/service"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("api")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cfg, log)
		},
	}
}

func notifier(cfg config.Config, log *zap.Logger) service.Notifier {
	if cfg.Broker.Delivery == "log" {
		log.Warn("OTP_DELIVERY=log: one-time codes are written to the debug log")
		return queue.LogPublisher{Logger: log}
	}
	return queue.NewPublisher(cfg.Broker.URL, cfg.Broker.Queue, log.Named("publisher"))
}

func serve(cfg config.Config, log *zap.Logger) error {
	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var rdb *redis.Client
	if c, err := config.NewRedisClient(); err != nil {
		log.Warn("redis unavailable; rate limiting off and state cache kept in memory", zap.Error(err))
	} else {
		rdb = c
		defer func() { _ = rdb.Close() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := service.New(service.Deps{
		Users:    st.users,
		Tokens:   st.tokens,
		OTPs:     st.otps,
		Cache:    cache.New(config.LoadStateCacheConfig(), rdb),
		Notifier: notifier(cfg, log),
		Logger:   log.Named("service"),
		Metrics:  metrics.NewAuth(reg),
	}, service.OptionsFrom(cfg))

	health := handler.Health(nil)
	if st.db != nil {
		health = handler.Health(st.db)
	}
	auth := handler.NewAuthHandler(svc, cfg.RequestTimeout, log.Named("http"))
	e := router.New(router.Deps{
		Auth:      auth,
		Admin:     handler.NewAdminHandler(auth),
		Validator: svc,
		Health:    health,
		RateLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log.Named("ratelimit")),
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    log.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("db_driver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}

	// Let in-flight OTP publishes finish, bounded by the same budget.
	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("gave up waiting for OTP publishes")
	}
	log.Info("server stopped")
	return nil
}
