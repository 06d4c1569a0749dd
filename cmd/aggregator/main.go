package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aevon-lab/event-aggregator/internal/buffer"
	"github.com/aevon-lab/event-aggregator/internal/buffer/amqp"
	membuffer "github.com/aevon-lab/event-aggregator/internal/buffer/memory"
	"github.com/aevon-lab/event-aggregator/internal/buffer/redis"
	"github.com/aevon-lab/event-aggregator/internal/consumer"
	corecfg "github.com/aevon-lab/event-aggregator/internal/core/config"
	"github.com/aevon-lab/event-aggregator/internal/core/storage"
	memstore "github.com/aevon-lab/event-aggregator/internal/core/storage/memory"
	"github.com/aevon-lab/event-aggregator/internal/core/storage/postgres"
	"github.com/aevon-lab/event-aggregator/internal/ingestion"
	"github.com/aevon-lab/event-aggregator/internal/logging"
	"github.com/aevon-lab/event-aggregator/internal/migrations"
	"github.com/aevon-lab/event-aggregator/internal/projection"
	"github.com/aevon-lab/event-aggregator/internal/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Aggregator stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(configPath string) error {
	// 0. Bootstrap logger until config is loaded
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format))
	slog.Info("Loaded config",
		"database_type", cfg.Database.Type,
		"database_driver", cfg.Database.Driver,
		"buffer_driver", cfg.Buffer.Driver,
		"queue", cfg.Buffer.Queue)

	startedAt := time.Now().UTC()

	// 2. Initialize Storage
	store, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Initialize Transfer Buffer (optional)
	buf, err := openBuffer(cfg.Buffer)
	if err != nil {
		return err
	}
	if buf != nil {
		defer buf.Close()
	}

	// 4. Initialize Ingestion, Projection and Server
	ingestionSvc := ingestion.NewService(store, buf, cfg.Server.MaxBodySizeMB)
	ingestionSvc.SetPushTimeout(cfg.Buffer.PushTimeoutDuration())

	var (
		depth       projection.QueueDepth
		bufferProbe server.HealthChecker
	)
	if buf != nil {
		depth, bufferProbe = buf, buf
	}
	projectionSvc := projection.NewService(store, depth, startedAt)

	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), store, bufferProbe, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	projectionSvc.RegisterRoutes(srv.Engine)

	// 5. Start Services
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if buf != nil {
		initial, max := cfg.Consumer.Backoff()
		c := consumer.New(buf, store, consumer.Options{
			PopTimeout:     cfg.Buffer.PopTimeoutDuration(),
			InitialBackoff: initial,
			MaxBackoff:     max,
		})
		g.Go(func() error { return c.Run(gctx) })
	} else {
		slog.Info("No transfer buffer configured, ingestion runs in direct mode")
	}

	// HTTP server blocks until ctx is cancelled.
	g.Go(func() error { return srv.Run(gctx) })

	return g.Wait()
}

// openStore returns the configured event store and its cleanup func.
func openStore(cfg corecfg.DatabaseConfig) (storage.EventStore, func(), error) {
	if cfg.Type == "memory" {
		slog.Warn("Using in-memory event store; nothing survives a restart")
		return memstore.NewStore(), func() {}, nil
	}

	db, err := postgres.Open(cfg.Driver, cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := migrations.RunMigrations(db, cfg.AutoMigrate); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return adapter, func() {
		if err := adapter.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}, nil
}

// openBuffer returns nil when no buffer is configured. An unreachable broker
// is not fatal: the consumer backs off and ingestion falls back to direct
// processing until it comes back.
func openBuffer(cfg corecfg.BufferConfig) (buffer.Buffer, error) {
	var buf buffer.Buffer
	switch cfg.Driver {
	case "redis":
		q, err := redis.Open(cfg.URL, cfg.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis buffer: %w", err)
		}
		buf = q
	case "amqp":
		buf = amqp.New(cfg.URL, cfg.Queue, cfg.DialTimeoutDuration())
	case "memory":
		buf = membuffer.New()
	default:
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := buf.Ping(ctx); err != nil {
		slog.Warn("Transfer buffer unreachable at startup", "driver", cfg.Driver, "error", err)
	} else {
		slog.Info("Transfer buffer ready", "driver", cfg.Driver, "queue", cfg.Queue)
	}
	return buf, nil
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
