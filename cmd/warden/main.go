// Command warden runs the AI governance decision service: policy
// evaluation, content scanning, vector store filter compilation and
// durable audit delivery behind one HTTP API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/wardenlabs/warden/pkg/audit"
	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/kms"
	"github.com/wardenlabs/warden/pkg/observability"
	"github.com/wardenlabs/warden/pkg/policy"
	"github.com/wardenlabs/warden/pkg/scanner"
	"github.com/wardenlabs/warden/pkg/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to warden.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.Observability.Enabled
	otelCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	otelCfg.SampleRate = cfg.Observability.SampleRate
	otelCfg.Environment = cfg.Observability.Environment
	otelCfg.Insecure = cfg.Observability.Insecure
	telem, err := observability.New(ctx, otelCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = telem.Shutdown(context.Background()) }()

	keys, err := kms.New(cfg.KMS.KeystorePath)
	if err != nil {
		return err
	}

	store, closeStore, err := openPolicyStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := policy.NewEngine(store, policy.EngineConfig{
		FailOpen:      cfg.Authz.FailOpen,
		StoreTimeout:  cfg.Authz.StoreTimeout,
		CacheCapacity: cfg.Cache.Capacity,
		CacheMaxIdle:  cfg.Cache.MaxIdle,
		CacheMaxAge:   cfg.Cache.MaxAge,
		Telem:         telem,
	}, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	scanners, err := scanner.Build(ctx, cfg.Scanners)
	if err != nil {
		return err
	}
	pipeline := scanner.NewPipeline(scanners, scanner.PipelineConfig{Telem: telem}, logger)

	sink, closeSink, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	spool, err := audit.NewSpool(cfg.Audit.SpoolDir)
	if err != nil {
		return err
	}
	writer := audit.NewWriter(sink, spool, keys, audit.WriterConfig{
		QueueSize:        cfg.Audit.QueueSize,
		Workers:          cfg.Audit.Workers,
		EnqueueTimeout:   cfg.Audit.EnqueueTimeout,
		FailOnSaturation: cfg.Audit.FailureErrorEnabled,
		ReplayInterval:   cfg.Audit.ReplayInterval,
		Telem:            telem,
	}, logger)
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := writer.Close(dctx); err != nil {
			logger.Error("audit writer close", "error", err)
		}
	}()

	var limiter *server.Limiter
	if cfg.Server.RateLimit > 0 {
		var rdb *redis.Client
		if cfg.Redis.Addr != "" {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer func() { _ = rdb.Close() }()
		}
		limiter = server.NewLimiter(rdb, cfg.Server.RateLimit, cfg.Server.RateBurst, logger)
	}

	srv, err := server.New(server.Options{
		Engine:    engine,
		Scanners:  pipeline,
		Audit:     writer,
		Limiter:   limiter,
		Telem:     telem,
		Logger:    logger,
		JWTSecret: cfg.Server.JWTSecret,
	})
	if err != nil {
		return err
	}

	return srv.ListenAndServe(ctx, cfg.Server.Addr,
		cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openPolicyStore(cfg *config.Config) (policy.Store, func(), error) {
	switch cfg.PolicyStore.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.PolicyStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open policy db: %w", err)
		}
		return policy.NewPostgresStore(db), func() { _ = db.Close() }, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.PolicyStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open policy db: %w", err)
		}
		store, err := policy.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil
	case "memory":
		return policy.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown policy store driver %q", cfg.PolicyStore.Driver)
	}
}

func openSink(ctx context.Context, cfg *config.Config) (audit.Sink, func(), error) {
	switch cfg.Audit.Sink {
	case "file":
		s, err := audit.NewFileSink(cfg.Audit.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.PolicyStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit db: %w", err)
		}
		s, err := audit.NewSQLiteSink(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func() { _ = db.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.PolicyStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit db: %w", err)
		}
		return audit.NewPostgresSink(db), func() { _ = db.Close() }, nil
	case "s3":
		s, err := audit.NewS3Sink(ctx, audit.S3SinkConfig{
			Bucket:   cfg.Audit.S3Bucket,
			Region:   cfg.Audit.S3Region,
			Endpoint: cfg.Audit.S3Endpoint,
			Prefix:   cfg.Audit.S3Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "gcs":
		s, err := audit.NewGCSSink(ctx, cfg.Audit.GCSBucket, cfg.Audit.GCSPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "http":
		return audit.NewHTTPSink(cfg.Audit.HTTPEndpoint, cfg.Audit.HTTPToken, nil), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit sink %q", cfg.Audit.Sink)
	}
}
