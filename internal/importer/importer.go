// Package importer bulk loads coupons from gzip compressed NDJSON dumps.
//
// Files are processed concurrently in three passes. Pass 1 builds a bloom
// filter of shopId/name keys per file. Pass 2 re-streams every file and
// upserts records whose key is absent from all other files' filters; keys
// that may appear elsewhere are stashed. Pass 3 writes the stash in file
// order, so for a key present in several files the last file wins.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/shop"
)

const (
	defaultCapacity = 1_000_000
	defaultFPR      = 0.001
	progressEvery   = 100_000
	maxLineBytes    = 1 << 20
)

// Sink receives imported coupons. Upsert must be safe for concurrent use.
type Sink interface {
	Upsert(ctx context.Context, c coupon.Coupon) error
}

// Options tunes the importer.
type Options struct {
	// Capacity is the expected number of records per file.
	Capacity uint
	// FalsePositiveRate of the per-file bloom filters.
	FalsePositiveRate float64
}

// Stats summarizes an import run. Invalid counts undecodable lines and
// coupons of unknown shops.
type Stats struct {
	Lines    uint64
	Invalid  uint64
	Written  uint64
	Deferred uint64
}

// Importer loads coupon dumps into a Sink.
type Importer struct {
	sink     Sink
	lg       *zap.Logger
	capacity uint
	fpr      float64
	now      func() time.Time
}

// New creates an Importer writing to sink.
func New(sink Sink, lg *zap.Logger, opts Options) *Importer {
	if opts.Capacity == 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.FalsePositiveRate <= 0 {
		opts.FalsePositiveRate = defaultFPR
	}
	return &Importer{
		sink:     sink,
		lg:       lg,
		capacity: opts.Capacity,
		fpr:      opts.FalsePositiveRate,
		now:      time.Now,
	}
}

type counters struct {
	lines    atomic.Uint64
	invalid  atomic.Uint64
	written  atomic.Uint64
	deferred atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Lines:    c.lines.Load(),
		Invalid:  c.invalid.Load(),
		Written:  c.written.Load(),
		Deferred: c.deferred.Load(),
	}
}

// Run imports files. Later files take precedence over earlier ones for
// coupons sharing a shop and name.
func (im *Importer) Run(ctx context.Context, files []string) (Stats, error) {
	var cnt counters

	im.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := im.buildFilters(ctx, files)
	if err != nil {
		return cnt.stats(), errors.Wrap(err, "build bloom filters")
	}

	im.lg.Info("Pass 2: writing unique records")
	stash, err := im.writeUnique(ctx, files, filters, &cnt)
	if err != nil {
		return cnt.stats(), errors.Wrap(err, "write unique records")
	}

	im.lg.Info("Pass 3: writing deferred records", zap.Uint64("deferred", cnt.deferred.Load()))
	for idx, records := range stash {
		for i := range records {
			if err := im.upsert(ctx, records[i], &cnt); err != nil {
				return cnt.stats(), errors.Wrapf(err, "upsert deferred record from file %d", idx+1)
			}
		}
	}

	return cnt.stats(), nil
}

func (im *Importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.capacity, im.fpr)
			var count uint64
			if err := streamGzFile(ctx, path, func(line []byte) error {
				if rec, err := parseRecord(line); err == nil {
					filter.AddString(recordKey(rec))
					count++
				}
				return nil
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			im.lg.Info("Pass 1 complete", zap.Int("file", i+1), zap.Uint64("records", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

func (im *Importer) writeUnique(
	ctx context.Context,
	files []string,
	filters []*bloom.BloomFilter,
	cnt *counters,
) ([][]coupon.Coupon, error) {
	stash := make([][]coupon.Coupon, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			var lines uint64
			err := streamGzFile(ctx, path, func(line []byte) error {
				lines++
				cnt.lines.Add(1)
				if lines%progressEvery == 0 {
					im.lg.Info("Pass 2 progress", zap.Int("file", i+1), zap.Uint64("lines", lines))
				}

				rec, err := parseRecord(line)
				if err != nil {
					cnt.invalid.Add(1)
					im.lg.Debug("Skipping invalid line",
						zap.Int("file", i+1),
						zap.Uint64("line", lines),
						zap.Error(err),
					)
					return nil
				}
				c := im.toCoupon(rec)

				if seenElsewhere(filters, i, recordKey(rec)) {
					stash[i] = append(stash[i], c)
					cnt.deferred.Add(1)
					return nil
				}
				if err := im.upsert(ctx, c, cnt); err != nil {
					return errors.Wrapf(err, "upsert %s", recordKey(rec))
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %d", i+1)
			}

			im.lg.Info("Pass 2 complete",
				zap.Int("file", i+1),
				zap.Uint64("lines", lines),
				zap.Int("deferred", len(stash[i])),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stash, nil
}

// upsert writes c to the sink. Coupons of unknown shops are counted as
// invalid and skipped.
func (im *Importer) upsert(ctx context.Context, c coupon.Coupon, cnt *counters) error {
	err := im.sink.Upsert(ctx, c)
	switch {
	case err == nil:
		cnt.written.Add(1)
		return nil
	case errors.Is(err, shop.ErrNotFound):
		cnt.invalid.Add(1)
		im.lg.Debug("Skipping coupon of unknown shop",
			zap.String("shop_id", c.ShopID),
			zap.String("name", c.Name),
		)
		return nil
	default:
		return err
	}
}

// seenElsewhere reports whether any filter other than filters[idx] may
// contain key.
func seenElsewhere(filters []*bloom.BloomFilter, idx int, key string) bool {
	for j, f := range filters {
		if j != idx && f.TestString(key) {
			return true
		}
	}
	return false
}

func (im *Importer) toCoupon(req coupon.CreateRequest) coupon.Coupon {
	return coupon.Coupon{
		ID:        uuid.NewString(),
		ShopID:    req.ShopID,
		Name:      req.Name,
		Value:     req.Value,
		MinAmount: req.MinAmount,
		MaxAmount: req.MaxAmount,
		CreatedAt: im.now().UTC(),
	}
}

func recordKey(req coupon.CreateRequest) string {
	return req.ShopID + "/" + req.Name
}

// parseRecord decodes one NDJSON line of the form
// {"shopId":"S1","name":"SAVE10","value":10,"minAmount":50,"maxAmount":null}.
func parseRecord(line []byte) (coupon.CreateRequest, error) {
	var req coupon.CreateRequest
	d := jx.DecodeBytes(line)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "shopId":
			v, err := d.Str()
			req.ShopID = strings.TrimSpace(v)
			return err
		case "name":
			v, err := d.Str()
			req.Name = strings.TrimSpace(v)
			return err
		case "value":
			v, err := decodeDecimal(d)
			req.Value = v
			return err
		case "minAmount":
			v, err := decodeNullDecimal(d)
			req.MinAmount = v
			return err
		case "maxAmount":
			v, err := decodeNullDecimal(d)
			req.MaxAmount = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return req, errors.Wrap(err, "decode record")
	}
	return req, req.Validate()
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}

func decodeNullDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-blank
// line. The line buffer is reused between calls.
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
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
