package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/unklstewy/tracon-scope/internal/db"
	"github.com/unklstewy/tracon-scope/internal/logging"
	"github.com/unklstewy/tracon-scope/internal/metrics"
	"github.com/unklstewy/tracon-scope/internal/setup"
	"github.com/unklstewy/tracon-scope/pkg/config"
	"github.com/unklstewy/tracon-scope/pkg/feed"
)

// Collector polls the aircraft feed and archives every snapshot. It runs
// headless next to the scope server so replay data survives restarts.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9101)")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  TRACON Scope Snapshot Collector")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Configuration loaded from: %s", *configPath)
	log.Printf("Center: %.4f, %.4f (%.0f nm)", cfg.Feed.CenterLat, cfg.Feed.CenterLon, cfg.Feed.RadiusNm)
	log.Printf("Poll interval: %v", cfg.Feed.PollInterval())
	if cfg.Feed.RadiusNm > 250 {
		log.Printf("⚠️  WARNING: Large radius (>250 nm) may cause API rate limit issues")
	}

	lg := logging.New("collector", cfg.Logging)
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("\nConnecting to database...")
	database, err := db.ConnectWithRetry(ctx, cfg.Database, 5, 2*time.Second, lg.Logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("✓ Database connected")

	if err := database.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Println("✓ Database schema initialized")

	m := metrics.New()
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, m, lg.Logger)
	}

	source := setup.ADSBClient(cfg.ADSB)
	defer source.Close()

	feedSvc, err := setup.FeedService(cfg, source, m, lg.Logger)
	if err != nil {
		log.Fatalf("Failed to create feed: %v", err)
	}

	collector := &Collector{
		repo:      db.NewSnapshotRepository(database),
		db:        database,
		retention: time.Duration(cfg.Database.RetentionHours) * time.Hour,
		metrics:   m,
		logger:    lg.Logger,
	}

	// Subscribe before the first poll so it is archived too.
	updates, unsubscribe := feedSvc.Subscribe()
	defer unsubscribe()
	feedSvc.Start(ctx)
	defer feedSvc.Stop()

	log.Println("\n===========================================")
	log.Println("  Collector service started")
	log.Println("  Press Ctrl+C to stop")
	log.Println("===========================================")

	collector.Run(ctx, updates)

	log.Println("Shutting down gracefully...")
	log.Println("✓ Collector service stopped")
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", "addr", addr, "error", err)
	}
}

// SnapshotStore archives feed snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, resp *feed.Response) (int64, error)
}

// Archive is the maintenance side of the database.
type Archive interface {
	CleanupOldData(ctx context.Context, maxAge time.Duration) error
	GetStats(ctx context.Context) (db.Stats, error)
}

// Collector archives feed snapshots and prunes old rows.
type Collector struct {
	repo      SnapshotStore
	db        Archive
	retention time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// Statistics
	archived     int
	failed       int
	skipped      int
	lastUpdateMs int64
}

// Run archives snapshots from updates until ctx is done or updates closes.
func (c *Collector) Run(ctx context.Context, updates <-chan *feed.Response) {
	cleanupTicker := time.NewTicker(5 * time.Minute)
	defer cleanupTicker.Stop()

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-updates:
			if !ok {
				return
			}
			c.archive(ctx, resp)
		case <-cleanupTicker.C:
			c.cleanup(ctx)
		case <-statsTicker.C:
			c.printStats(ctx)
		}
	}
}

// archive stores one snapshot. A snapshot with the same update time as the
// previous one is skipped.
func (c *Collector) archive(ctx context.Context, resp *feed.Response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while archiving snapshot", "panic", r)
		}
	}()

	if resp == nil || resp.UpdatedAtMs == 0 || resp.UpdatedAtMs == c.lastUpdateMs {
		c.skipped++
		return
	}

	err := db.WithRetry(ctx, 2, c.logger, func(ctx context.Context) error {
		_, err := c.repo.Insert(ctx, resp)
		return err
	})
	c.metrics.ObserveArchiveWrite("feed_snapshots", err)
	if err != nil {
		c.failed++
		c.logger.Error("Failed to archive snapshot", "updatedAtMs", resp.UpdatedAtMs, "error", err)
		return
	}

	c.archived++
	c.lastUpdateMs = resp.UpdatedAtMs
	c.logger.Debug("Archived snapshot", "updatedAtMs", resp.UpdatedAtMs, "aircraft", len(resp.Aircraft))
}

func (c *Collector) cleanup(ctx context.Context) {
	if c.retention <= 0 {
		return
	}
	if err := c.db.CleanupOldData(ctx, c.retention); err != nil {
		c.logger.Error("Cleanup failed", "error", err)
		return
	}
	c.logger.Info("Cleanup completed", "retention", c.retention)
}

func (c *Collector) printStats(ctx context.Context) {
	stats, err := c.db.GetStats(ctx)
	if err != nil {
		c.logger.Warn("Error getting stats", "error", err)
		return
	}

	log.Println("-------------------------------------------")
	log.Printf("Snapshots archived this run: %d (failed %d, skipped %d)", c.archived, c.failed, c.skipped)
	log.Printf("Archive: %d snapshots, %d positions, %d wx grids, %d flight rules",
		stats.Snapshots, stats.TrackPositions, stats.WxGrids, stats.FlightRules)
	if stats.Snapshots > 0 {
		log.Printf("Latest snapshot: %v ago", stats.LatestSnapshotAge.Round(time.Second))
	}
	log.Println("-------------------------------------------")
}
