package app

import (
	"context"
	"strings"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/event"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/txn"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
)

// backend is the persistence layer selected by StorageConfig.Driver.
type backend struct {
	tm       txn.Manager
	products product.Repository
	coupons  coupon.Repository
	orders   order.Repository
	events   event.Repository
	pinger   health.Pinger
	close    func()
}

func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config) (*backend, error) {
	if cfg.Storage.Driver == DriverMemory {
		lg.Warn("Using in-memory storage, data is lost on restart")
		s := memory.New()
		return &backend{
			tm:       s,
			products: s.Products(),
			coupons:  s.Coupons(),
			orders:   s.Orders(),
			events:   s.Events(),
			pinger:   s,
			close:    func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return &backend{
		tm:       postgres.NewTxManager(pool),
		products: postgres.NewProductRepository(pool),
		coupons:  postgres.NewCouponRepository(pool),
		orders:   postgres.NewOrderRepository(pool),
		events:   postgres.NewEventRepository(pool),
		pinger:   pool,
		close:    pool.Close,
	}, nil
}

// openRedis connects to the configured Redis. Addr may be host:port or a
// redis:// URL. Without an address an in-process server is started.
func openRedis(lg *zap.Logger, cfg RedisConfig) (redis.UniversalClient, func(), error) {
	addr := cfg.Addr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, errors.Wrap(err, "start in-process redis")
		}
		lg.Warn("No Redis address configured, carts are kept in process", zap.String("addr", mr.Addr()))
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	opts := &redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse redis url")
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	return client, func() { _ = client.Close() }, nil
}
