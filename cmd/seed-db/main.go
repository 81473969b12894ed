package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		authSecret   string
		tokenSubject string
		tokenTTL     time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&authSecret, "auth-secret", "", "token secret used to mint a dev admin token (or STOREFRONT_AUTH_SECRET env)")
	flag.StringVar(&tokenSubject, "token-subject", "dev-admin", "subject of the minted dev token")
	flag.DurationVar(&tokenTTL, "token-ttl", 30*24*time.Hour, "lifetime of the minted dev token")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if authSecret == "" {
		authSecret = os.Getenv("STOREFRONT_AUTH_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if authSecret != "" {
		if err := mintToken(authSecret, tokenSubject, tokenTTL); err != nil {
			slog.Error("mint token failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Category: p.Category,
			Price:    p.Price,
			Stock:    p.Stock,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

func intPtr(v int) *int { return &v }

func demoCoupons() []coupon.Coupon {
	return []coupon.Coupon{
		{
			Code:                 "WELCOME10",
			Description:          "10% off your first order",
			DiscountType:         coupon.DiscountPercentage,
			DiscountValue:        decimal.NewFromInt(10),
			MinPurchase:          decimal.Zero,
			PerUserLimit:         intPtr(1),
			IsActive:             true,
			ApplicableCategories: []string{},
		},
		{
			Code:                 "SAVE50",
			Description:          "50% off instruments, up to 100",
			DiscountType:         coupon.DiscountPercentage,
			DiscountValue:        decimal.NewFromInt(50),
			MinPurchase:          decimal.NewFromInt(200),
			MaxDiscount:          decimal.NewNullDecimal(decimal.NewFromInt(100)),
			UsageLimit:           intPtr(100),
			IsActive:             true,
			ApplicableCategories: []string{"instrument"},
		},
		{
			Code:                 "FLAT20",
			Description:          "20 off orders over 100",
			DiscountType:         coupon.DiscountFixed,
			DiscountValue:        decimal.NewFromInt(20),
			MinPurchase:          decimal.NewFromInt(100),
			IsActive:             true,
			ApplicableCategories: []string{},
		},
	}
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository) error {
	slog.Info("seeding demo coupons")

	for _, c := range demoCoupons() {
		if err := coupon.Validate(&c); err != nil {
			return errors.Wrapf(err, "validate coupon %s", c.Code)
		}
		err := repo.Create(ctx, &c)
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			slog.Info("coupon exists, skipping", slog.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", c.Code)
		default:
			slog.Info("created coupon", slog.String("code", c.Code), slog.String("description", c.Description))
		}
	}
	return nil
}

func mintToken(secret, subject string, ttl time.Duration) error {
	signer, err := auth.NewSigner(secret, ttl)
	if err != nil {
		return err
	}
	token, err := signer.Sign(auth.Identity{Subject: subject, Role: auth.RoleAdmin})
	if err != nil {
		return err
	}
	slog.Info("minted dev admin token",
		slog.String("subject", subject),
		slog.Duration("ttl", ttl),
		slog.String("token", token),
	)
	return nil
}
