package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const progressEvery = 100_000

// couponJSON is one line of an import file.
type couponJSON struct {
	Code                 string              `json:"code"`
	Description          string              `json:"description"`
	DiscountType         string              `json:"discountType"`
	DiscountValue        decimal.Decimal     `json:"discountValue"`
	MinPurchase          decimal.Decimal     `json:"minPurchase"`
	MaxDiscount          decimal.NullDecimal `json:"maxDiscount"`
	UsageLimit           *int                `json:"usageLimit"`
	PerUserLimit         *int                `json:"perUserLimit"`
	ValidFrom            *time.Time          `json:"validFrom"`
	ValidUntil           *time.Time          `json:"validUntil"`
	IsActive             *bool               `json:"isActive"`
	ApplicableCategories []string            `json:"applicableCategories"`
}

func (c couponJSON) toCoupon() coupon.Coupon {
	out := coupon.Coupon{
		Code:                 c.Code,
		Description:          c.Description,
		DiscountType:         coupon.DiscountType(c.DiscountType),
		DiscountValue:        c.DiscountValue,
		MinPurchase:          c.MinPurchase,
		MaxDiscount:          c.MaxDiscount,
		UsageLimit:           c.UsageLimit,
		PerUserLimit:         c.PerUserLimit,
		ValidFrom:            c.ValidFrom,
		ValidUntil:           c.ValidUntil,
		IsActive:             c.IsActive == nil || *c.IsActive,
		ApplicableCategories: c.ApplicableCategories,
	}
	if out.ApplicableCategories == nil {
		out.ApplicableCategories = []string{}
	}
	return out
}

// creator persists new coupons, failing with coupon.ErrDuplicateCode for
// codes that already exist.
type creator interface {
	Create(ctx context.Context, c *coupon.Coupon) error
}

type options struct {
	Workers           int
	Capacity          uint
	FalsePositiveRate float64
}

type stats struct {
	Read       atomic.Int64
	Invalid    atomic.Int64
	Created    atomic.Int64
	Duplicates atomic.Int64
}

type record struct {
	file string
	line int
	c    coupon.Coupon
}

// ingest streams every file concurrently and creates each valid coupon once.
//
// Codes are deduplicated in bounded memory with a bloom filter. A code the
// filter has not seen is new to this run and is written right away. A filter
// hit may be a false positive, so those records are retried after the main
// pass and the unique constraint decides.
func ingest(ctx context.Context, repo creator, files []string, opts options) (*stats, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	st := &stats{}
	filter := bloom.NewWithEstimates(opts.Capacity, opts.FalsePositiveRate)

	parsed := make(chan record, 1024)
	fresh := make(chan record, 1024)
	var suspects []record

	g, ctx := errgroup.WithContext(ctx)

	var readers sync.WaitGroup
	for _, path := range files {
		readers.Add(1)
		g.Go(func() error {
			defer readers.Done()
			return readFile(ctx, path, st, parsed)
		})
	}
	g.Go(func() error {
		readers.Wait()
		close(parsed)
		return nil
	})

	g.Go(func() error {
		defer close(fresh)
		for rec := range parsed {
			if filter.TestAndAddString(rec.c.Code) {
				suspects = append(suspects, rec)
				continue
			}
			select {
			case fresh <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for range opts.Workers {
		g.Go(func() error {
			for rec := range fresh {
				if err := write(ctx, repo, rec, st); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return st, err
	}

	slog.Info("resolving possible duplicates", slog.Int("count", len(suspects)))
	for _, rec := range suspects {
		if err := write(ctx, repo, rec, st); err != nil {
			return st, err
		}
	}
	return st, nil
}

func write(ctx context.Context, repo creator, rec record, st *stats) error {
	c := rec.c
	err := repo.Create(ctx, &c)
	switch {
	case errors.Is(err, coupon.ErrDuplicateCode):
		st.Duplicates.Add(1)
		return nil
	case err != nil:
		return errors.Wrapf(err, "create coupon %s (%s:%d)", c.Code, rec.file, rec.line)
	}
	if n := st.Created.Add(1); n%progressEvery == 0 {
		slog.Info("write progress", slog.Int64("created", n))
	}
	return nil
}

// readFile decodes a gzipped JSON-lines file. Malformed or invalid lines are
// logged and skipped.
func readFile(ctx context.Context, path string, st *stats, out chan<- record) error {
	var line int
	return streamGzFile(ctx, path, func(raw []byte) error {
		line++
		if len(raw) == 0 {
			return nil
		}
		st.Read.Add(1)

		var cj couponJSON
		if err := json.Unmarshal(raw, &cj); err != nil {
			st.Invalid.Add(1)
			slog.Warn("skipping malformed line", slog.String("file", path), slog.Int("line", line), slog.String("error", err.Error()))
			return nil
		}
		c := cj.toCoupon()
		if err := coupon.Validate(&c); err != nil {
			st.Invalid.Add(1)
			slog.Warn("skipping invalid coupon", slog.String("file", path), slog.Int("line", line), slog.String("error", err.Error()))
			return nil
		}

		select {
		case out <- record{file: path, line: line, c: c}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
