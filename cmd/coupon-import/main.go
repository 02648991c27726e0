package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/heating-shop/internal/domain/coupon"
	"github.com/xenking/heating-shop/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.0001
	progressEvery = 10_000
	minCodeLen    = 3
	maxCodeLen    = 32
)

// defaultRule applies to lines that carry only a code.
var defaultRule = coupon.Coupon{
	DiscountType: coupon.DiscountPercentage,
	Value:        decimal.NewFromInt(10),
	Scope:        coupon.ScopeOrder,
	Description:  "10% off your order",
}

// Each input line is CODE[,percentage|fixed,VALUE[,LIMIT]]. Files ending in
// .gz are decompressed.
func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Usage = func() {
		_, _ = io.WriteString(flag.CommandLine.Output(), "usage: coupon-import [--database-url URL] FILE...\n")
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
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args()); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewCouponRepository(pool)
	coupons := make(chan coupon.Coupon, 1024)

	g, ctx := errgroup.WithContext(ctx)
	readers, ctxReaders := errgroup.WithContext(ctx)
	for i, f := range files {
		readers.Go(func() error {
			return readFile(ctxReaders, i, f, coupons)
		})
	}
	g.Go(func() error {
		defer close(coupons)
		return readers.Wait()
	})

	var written, repeated atomic.Int64
	g.Go(func() error {
		seen := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		for c := range coupons {
			// A repeated code overwrites the earlier definition.
			if seen.TestAndAddString(c.Code) {
				repeated.Add(1)
			}
			if err := repo.Upsert(ctx, &c); err != nil {
				return errors.Wrapf(err, "upsert coupon %s", c.Code)
			}
			if n := written.Add(1); n%progressEvery == 0 {
				slog.Info("write progress", slog.Int64("written", n))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("coupons written",
		slog.Int64("written", written.Load()),
		slog.Int64("repeated", repeated.Load()),
	)
	return nil
}

// readFile streams path line by line and sends every valid coupon to out.
func readFile(ctx context.Context, idx int, path string, out chan<- coupon.Coupon) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var lines, skipped uint64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		c, err := parseLine(line)
		if err != nil {
			skipped++
			slog.Warn("skipping line",
				slog.String("file", path),
				slog.Uint64("line", lines),
				slog.String("error", err.Error()),
			)
			continue
		}

		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("file read",
		slog.Int("file", idx+1),
		slog.Uint64("lines", lines),
		slog.Uint64("skipped", skipped),
	)
	return nil
}

func parseLine(line string) (coupon.Coupon, error) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	c := defaultRule
	c.ID = uuid.NewString()
	c.Code = coupon.NormalizeCode(fields[0])
	if len(c.Code) < minCodeLen || len(c.Code) > maxCodeLen {
		return c, errors.Errorf("code %q: length must be %d..%d", c.Code, minCodeLen, maxCodeLen)
	}

	switch len(fields) {
	case 1:
		return c, nil
	case 3, 4:
	default:
		return c, errors.Errorf("code %s: expected 1, 3 or 4 fields, got %d", c.Code, len(fields))
	}

	switch t := coupon.DiscountType(fields[1]); t {
	case coupon.DiscountPercentage, coupon.DiscountFixed:
		c.DiscountType = t
	default:
		return c, errors.Errorf("code %s: unknown discount type %q", c.Code, fields[1])
	}

	value, err := decimal.NewFromString(fields[2])
	if err != nil {
		return c, errors.Wrapf(err, "code %s: parse value", c.Code)
	}
	if value.IsNegative() || (c.DiscountType == coupon.DiscountPercentage && value.GreaterThan(decimal.NewFromInt(100))) {
		return c, errors.Errorf("code %s: value %s out of range", c.Code, value)
	}
	c.Value = value
	if c.DiscountType == coupon.DiscountFixed {
		c.Description = value.Shift(-2).StringFixed(2) + " off your order"
	} else {
		c.Description = value.String() + "% off your order"
	}

	if len(fields) == 4 && fields[3] != "" {
		limit, err := strconv.Atoi(fields[3])
		if err != nil || limit < 0 {
			return c, errors.Errorf("code %s: invalid usage limit %q", c.Code, fields[3])
		}
		c.UsageLimit = &limit
	}

	return c, nil
}
