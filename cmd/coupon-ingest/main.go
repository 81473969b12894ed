package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		opts        options
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.Workers, "workers", 4, "concurrent database writers")
	flag.UintVar(&opts.Capacity, "capacity", 1_000_000, "expected number of coupons, sizes the dedupe filter")
	flag.Float64Var(&opts.FalsePositiveRate, "fpr", 0.001, "false positive rate of the dedupe filter")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: coupon-ingest [flags] coupons1.jsonl.gz [coupons2.jsonl.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, opts); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, opts options) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	st, err := ingest(ctx, postgres.NewCouponRepository(pool), files, opts)
	if err != nil {
		return err
	}
	slog.Info("ingest summary",
		slog.Int64("read", st.Read.Load()),
		slog.Int64("invalid", st.Invalid.Load()),
		slog.Int64("created", st.Created.Load()),
		slog.Int64("duplicates", st.Duplicates.Load()),
	)
	return nil
}
