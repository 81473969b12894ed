package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/lifecycle"
	"github.com/xenking/storefront/internal/events"
	"github.com/xenking/storefront/internal/handler"
	redisstore "github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	db, err := openBackend(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer db.close()

	rdb, closeRedis, err := openRedis(lg, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeRedis()

	signer, err := auth.NewSigner(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		return errors.Wrap(err, "create token signer")
	}

	// Domain services.
	checkoutSvc, err := checkout.NewService(db.tm, db.orders, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	h := handler.NewHandler(handler.Deps{
		Products:  db.products,
		Coupons:   db.coupons,
		Previewer: coupon.NewPreviewer(db.coupons),
		Checkout:  checkoutSvc,
		Orders:    lifecycle.NewService(db.tm, db.orders),
		Carts:     cart.NewService(redisstore.NewCartStore(rdb, cfg.Redis.CartTTL), db.products, checkoutSvc),
		Tokens:    signer,
	})

	// Health checks.
	healthSvc := health.New()
	healthSvc.Add(health.Check{Name: cfg.Storage.Driver, Kind: health.Readiness, Func: health.Ping(db.pinger)})
	healthSvc.Add(health.Check{Name: "redis", Kind: health.Readiness, Func: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}})
	healthSvc.Add(health.Check{
		Name:    "goroutines",
		Kind:    health.Liveness,
		Timeout: time.Second,
		Func:    health.GoroutineLimit(10000),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthSvc.Run(ctx, 10*time.Second) })

	var limiter httpmiddleware.Limiter
	if cfg.RateLimit.Redis {
		limiter = httpmiddleware.NewRedisWindow(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		sw := httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
		g.Go(func() error { return sw.Run(ctx) })
		limiter = sw
	}

	if len(cfg.Kafka.Brokers) > 0 {
		relay := events.NewRelay(db.events,
			events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			lg.Named("relay"),
			events.RelayOptions{Interval: cfg.Kafka.Interval, BatchSize: cfg.Kafka.BatchSize},
		)
		defer func() {
			if err := relay.Close(); err != nil {
				lg.Warn("Close relay", zap.Error(err))
			}
		}()
		g.Go(func() error { return relay.Run(ctx) })
	} else {
		lg.Info("Kafka brokers not configured, outbox relay disabled")
	}

	// Router: probes at the root, API under /api.
	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/api", h.Routes())
	routes := handler.RouteFinder(root)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(limiter, httpmiddleware.ClientIP),
			httpmiddleware.Instrument("storefront-api", routes, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(routes),
		),
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
