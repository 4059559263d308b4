package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/importer"
	"github.com/xenking/bazaar/internal/storage"
)

func main() {
	os.Exit(realMain())
}

// realMain returns the process exit code.
func realMain() int {
	var (
		cfg      storage.Config
		pattern  string
		capacity uint
	)

	flag.StringVar(&cfg.Driver, "driver", storage.DriverPostgres, "catalog backend: postgres or mongo")
	flag.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.MongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGO_URI env)")
	flag.StringVar(&cfg.MongoDatabase, "mongo-database", "bazaar", "MongoDB database name")
	flag.StringVar(&pattern, "files", "data/coupons*.ndjson.gz", "glob of gzip NDJSON dumps, imported in lexical order")
	flag.UintVar(&capacity, "capacity", 1_000_000, "expected records per file, sizes the bloom filters")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.MongoURI == "" {
		cfg.MongoURI = os.Getenv("MONGO_URI")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, cfg, pattern, capacity); err != nil {
		lg.Error("Coupon import failed", zap.Error(err))
		return 1
	}
	lg.Info("Coupon import completed successfully")
	return 0
}

func run(ctx context.Context, lg *zap.Logger, cfg storage.Config, pattern string, capacity uint) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "match files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}

	backend, err := storage.Open(ctx, lg, cfg)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer func() { _ = backend.Close(context.Background()) }()

	stats, err := importer.New(backend.Coupons, lg, importer.Options{Capacity: capacity}).Run(ctx, files)
	lg.Info("Import stats",
		zap.Strings("files", files),
		zap.Uint64("lines", stats.Lines),
		zap.Uint64("invalid", stats.Invalid),
		zap.Uint64("written", stats.Written),
		zap.Uint64("deferred", stats.Deferred),
	)
	return err
}
