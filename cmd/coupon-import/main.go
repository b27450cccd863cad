// Command coupon-import loads coupon campaigns from CSV files, optionally
// gzip-compressed, into the coupons table.
//
// Each line is code,type,value,max_uses[,min_amount[,expires_at]] where type
// is percentage or fixed and expires_at is RFC 3339. Empty lines and lines
// starting with # are ignored.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/store-core/internal/domain/coupon"
	"github.com/xenking/store-core/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1000
)

func main() {
	var (
		databaseURL  string
		keepExisting bool
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&keepExisting, "keep-existing", false, "skip codes that already exist instead of updating them")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		slog.Error("usage: coupon-import [flags] FILE...")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args(), keepExisting); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, keepExisting bool) error {
	batches, err := readFiles(ctx, files)
	if err != nil {
		return err
	}
	coupons := dedupe(batches)
	slog.Info("parsed coupons", slog.Int("files", len(files)), slog.Int("unique", len(coupons)))
	if len(coupons) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.New(pool).Coupons()
	if keepExisting {
		if coupons, err = dropExisting(ctx, repo, coupons); err != nil {
			return errors.Wrap(err, "filter existing coupons")
		}
	}
	return writeCoupons(ctx, repo, coupons)
}

// readFiles parses every file concurrently, keeping input order.
func readFiles(ctx context.Context, files []string) ([][]coupon.Coupon, error) {
	batches := make([][]coupon.Coupon, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			batch, err := readFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			slog.Info("read file", slog.String("path", path), slog.Int("coupons", len(batch)))
			batches[i] = batch
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

func readFile(ctx context.Context, path string) ([]coupon.Coupon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return parse(ctx, r)
}

func parse(ctx context.Context, r io.Reader) ([]coupon.Coupon, error) {
	var (
		out     []coupon.Coupon
		scanner = bufio.NewScanner(r)
		line    int
	)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		c, err := parseLine(text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, *c)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	return out, nil
}

func parseLine(text string) (*coupon.Coupon, error) {
	fields, err := csv.NewReader(strings.NewReader(text)).Read()
	if err != nil {
		return nil, err
	}
	if len(fields) < 4 || len(fields) > 6 {
		return nil, errors.Errorf("want 4 to 6 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	c := coupon.Coupon{
		Code:   coupon.NormalizeCode(fields[0]),
		Type:   coupon.DiscountType(strings.ToLower(fields[1])),
		Active: true,
	}
	if c.Code == "" {
		return nil, errors.New("empty code")
	}
	if !c.Type.Valid() {
		return nil, errors.Errorf("unknown discount type %q", fields[1])
	}
	if c.Value, err = decimal.NewFromString(fields[2]); err != nil || !c.Value.IsPositive() {
		return nil, errors.Errorf("invalid value %q", fields[2])
	}
	if c.Type == coupon.DiscountPercentage && c.Value.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errors.Errorf("percentage %s exceeds 100", fields[2])
	}
	if c.MaxUses, err = strconv.Atoi(fields[3]); err != nil || c.MaxUses <= 0 {
		return nil, errors.Errorf("invalid max uses %q", fields[3])
	}
	if len(fields) > 4 && fields[4] != "" {
		if c.MinAmount, err = decimal.NewFromString(fields[4]); err != nil || c.MinAmount.IsNegative() {
			return nil, errors.Errorf("invalid min amount %q", fields[4])
		}
	}
	if len(fields) > 5 && fields[5] != "" {
		at, err := time.Parse(time.RFC3339, fields[5])
		if err != nil {
			return nil, errors.Wrap(err, "expires_at")
		}
		c.ExpiresAt = &at
	}
	return &c, nil
}

// dedupe flattens batches. A code repeated across or within files keeps its
// last definition, matching what sequential upserts would leave behind.
func dedupe(batches [][]coupon.Coupon) []coupon.Coupon {
	index := make(map[string]int)
	var out []coupon.Coupon
	for _, batch := range batches {
		for _, c := range batch {
			if i, ok := index[c.Code]; ok {
				slog.Warn("duplicate code, later definition wins", slog.String("code", c.Code))
				out[i] = c
				continue
			}
			index[c.Code] = len(out)
			out = append(out, c)
		}
	}
	return out
}

// Lookup is the part of coupon.Repository used to detect existing codes.
type Lookup interface {
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	List(ctx context.Context) ([]coupon.Coupon, error)
}

// dropExisting removes codes already stored. Stored codes are loaded into a
// bloom filter so only probable matches cost a lookup.
func dropExisting(ctx context.Context, repo Lookup, coupons []coupon.Coupon) ([]coupon.Coupon, error) {
	stored, err := repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	filter := bloom.NewWithEstimates(uint(max(len(stored), 1)), bloomFPR)
	for _, c := range stored {
		filter.AddString(c.Code)
	}

	out := coupons[:0]
	for _, c := range coupons {
		if filter.TestString(c.Code) {
			_, err := repo.FindByCode(ctx, c.Code)
			switch {
			case err == nil:
				slog.Info("code exists, skipping", slog.String("code", c.Code))
				continue
			case !errors.Is(err, coupon.ErrNotFound):
				return nil, errors.Wrapf(err, "find %s", c.Code)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// Writer stores coupons.
type Writer interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

func writeCoupons(ctx context.Context, repo Writer, coupons []coupon.Coupon) error {
	slog.Info("writing coupons", slog.Int("count", len(coupons)))
	for i := range coupons {
		if err := repo.Upsert(ctx, &coupons[i]); err != nil {
			return errors.Wrapf(err, "upsert %s", coupons[i].Code)
		}
		if (i+1)%progressEvery == 0 || i+1 == len(coupons) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(coupons)))
		}
	}
	return nil
}
