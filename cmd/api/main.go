// @title                       Marketplace API
// @version                     1.0
// @description                 Tenant access and lifecycle control for the delivery marketplace.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/deliverly/marketplace-api/internal/api"
	"github.com/deliverly/marketplace-api/internal/api/handler"
	"github.com/deliverly/marketplace-api/internal/core/service"
	"github.com/deliverly/marketplace-api/internal/infrastructure/db/mongo"
	"github.com/deliverly/marketplace-api/internal/infrastructure/db/redis"
	"github.com/deliverly/marketplace-api/internal/infrastructure/queue"
	"github.com/deliverly/marketplace-api/internal/infrastructure/telemetry"
	"github.com/deliverly/marketplace-api/internal/pkg/config"
	"github.com/deliverly/marketplace-api/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		// The logger may not be initialised yet when configuration fails.
		fmt.Fprintln(os.Stderr, "marketplace api:", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  !cfg.IsProduction(),
		Service: cfg.Otel.ServiceName,
	})

	// Everything opened from here on is registered with res right away, so an
	// early return releases it. Once the server runs, shutdown owns res.
	res := &resources{log: log}
	handedOff := false
	defer func() {
		if handedOff {
			return
		}
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := res.close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("release resources after startup failure")
		}
	}()

	tel, err := telemetry.New(ctx, cfg.Otel, cfg.Env)
	if err != nil {
		return err
	}
	res.addBestEffort("tracer", tel.Shutdown)

	mongoClient, db, err := mongo.Connect(ctx, mongo.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		AppName:  cfg.Otel.ServiceName,
	})
	if err != nil {
		return err
	}
	res.add("mongo", mongoClient.Disconnect)
	if err := mongo.EnsureIndexes(ctx, db); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, redis.Config{
		Addr:      cfg.Redis.Addr,
		DB:        cfg.Redis.DB,
		OpTimeout: cfg.RateLimit.StoreTimeout,
	})
	if err != nil {
		return err
	}
	res.add("redis", func(context.Context) error { return rdb.Close() })

	dispatcher := queue.NewDispatcher(cfg.DispatchWorkers, logger.Component("dispatcher"))
	dispatcher.Start(ctx)
	res.add("dispatcher", func(context.Context) error {
		dispatcher.Stop()
		return nil
	})
	branches := mongo.NewBranchRepository(db)

	// --- Use cases ---
	lifecycle := service.NewLifecycleService(mongo.NewFirmRepository(db), service.LifecycleOptions{
		StoreTimeout: cfg.StoreTimeout,
		MaxRetries:   cfg.LifecycleMaxRetries,
	}, logger.Component("lifecycle"))
	subscriptions := service.NewSubscriptionService(mongo.NewSubscriptionRepository(db), cfg.TrialLength(), cfg.StoreTimeout, logger.Component("subscription"))
	authService := service.NewAuthService(
		mongo.NewAuthRepository(db),
		branches,
		service.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		lifecycle,
		subscriptions,
		cfg.StoreTimeout,
		logger.Component("auth"),
	)
	limiter := service.NewRateLimiter(redis.NewCounterStore(rdb), dispatcher, cfg.RateLimit.StoreTimeout, logger.Component("ratelimit"))
	arbiter := service.NewRequestArbiter(
		service.NewTokenVerifier(cfg.JWTSecret),
		limiter,
		service.NewTenancyGuard(branches, cfg.StoreTimeout),
		subscriptions,
		lifecycle,
		dispatcher,
		logger.Component("arbiter"),
	)

	if cfg.Admin.Username != "" && cfg.Admin.Password != "" {
		if err := authService.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
			return err
		}
	}

	e := api.NewRouter(api.Dependencies{
		Arbiter:      arbiter,
		Auth:         authService,
		Lifecycle:    lifecycle,
		Subscription: subscriptions,
		Readiness:    handler.NewHealthDependenciesHandler(db, rdb),
		Log:          logger.Component("http"),
		TrustProxy:   cfg.TrustProxy,
	}, api.NewRatePolicies(cfg.RateLimit))

	handedOff = true
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return shutdown(shutdownCtx, e.Shutdown, res)
	})

	return g.Wait()
}

// shutdown stops taking requests, then releases resources newest first:
// background tasks drain before the stores they use are closed.
func shutdown(ctx context.Context, server func(context.Context) error, res *resources) error {
	var errs []error
	if err := server(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := res.close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type closer struct {
	name string
	fn   func(context.Context) error
	// bestEffort failures are logged and do not fail shutdown.
	bestEffort bool
}

// resources is the stack of things run opened.
type resources struct {
	log     zerolog.Logger
	closers []closer
}

func (r *resources) add(name string, fn func(context.Context) error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

func (r *resources) addBestEffort(name string, fn func(context.Context) error) {
	r.closers = append(r.closers, closer{name: name, fn: fn, bestEffort: true})
}

// close runs every closer once, newest first, and joins the failures.
func (r *resources) close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		err := c.fn(ctx)
		switch {
		case err == nil:
		case c.bestEffort:
			r.log.Warn().Err(err).Str("resource", c.name).Msg("close failed")
		default:
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
