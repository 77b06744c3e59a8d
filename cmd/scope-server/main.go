// TRACON Scope Server
// Serves the aircraft feed, alerts, QNH and weather over HTTP and accepts
// weather and flight rules ingest from external processors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unklstewy/tracon-scope/internal/auth"
	"github.com/unklstewy/tracon-scope/internal/db"
	"github.com/unklstewy/tracon-scope/internal/logging"
	"github.com/unklstewy/tracon-scope/internal/metrics"
	"github.com/unklstewy/tracon-scope/internal/setup"
	"github.com/unklstewy/tracon-scope/pkg/config"
	"github.com/unklstewy/tracon-scope/pkg/wx"
)

// Archived grids older than this are not restored at startup.
const maxRestoredGridAge = 10 * time.Minute

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	port       = flag.String("port", "", "HTTP server port (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	lg := logging.New("scope-server", cfg.Logging)
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg.Logger); err != nil {
		lg.Error("Server failed", "error", err)
		lg.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New()

	source := setup.ADSBClient(cfg.ADSB)
	defer source.Close()

	feedSvc, err := setup.FeedService(cfg, source, m, logger)
	if err != nil {
		return err
	}
	engine, err := setup.Engine(cfg.Airspace, logger)
	if err != nil {
		return err
	}
	broadcaster, err := NewBroadcaster(cfg.Ingest.ReplaySize)
	if err != nil {
		return fmt.Errorf("failed to create flight rules replay: %w", err)
	}

	authSvc := auth.NewService(auth.Config{JWTSecret: cfg.Ingest.JWTSecret})
	if !authSvc.BearerEnabled() && cfg.Ingest.WxToken == "" && cfg.Ingest.WxTokenHash == "" {
		logger.Warn("No wx ingest token configured, POST /api/wx/radar will reject everything")
	}

	srv := &Server{
		opts: Options{
			CORSOrigins:         cfg.Server.CORSOrigins,
			WxMaxBytes:          cfg.Ingest.WxMaxBytes,
			FlightRulesMaxBytes: cfg.Ingest.FlightRulesMaxBytes,
			Center:              setup.Center(cfg),
			RadiusNm:            cfg.Feed.RadiusNm,
			DefaultWxRadiusNm:   cfg.Weather.DefaultRadiusNm,
			MaxWxRadiusNm:       cfg.Weather.MaxRadiusNm,
		},
		feed:        feedSvc,
		engine:      engine,
		qnh:         setup.QnhService(cfg.AviationWeather),
		sampler:     setup.Sampler(cfg.Weather),
		wxStore:     &wx.Store{},
		broadcaster: broadcaster,
		hub:         newWsHub(logger),
		wxGuard: &auth.Guard{
			Scope:   auth.ScopeWxIngest,
			Headers: []string{auth.HeaderWxToken, auth.HeaderTaisToken},
			Token:   auth.StaticToken{Plain: cfg.Ingest.WxToken, Hash: cfg.Ingest.WxTokenHash},
			Bearer:  authSvc,
		},
		rulesGuard: &auth.Guard{
			Scope:   auth.ScopeFlightRulesIngest,
			Headers: []string{auth.HeaderTaisToken},
			Token:   auth.StaticToken{Plain: cfg.Ingest.TaisToken, Hash: cfg.Ingest.TaisTokenHash},
			Bearer:  authSvc,
		},
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}

	if cfg.Database.Enabled {
		database, err := db.ConnectWithRetry(ctx, cfg.Database, 3, time.Second, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
		if err := database.InitSchema(ctx); err != nil {
			return err
		}
		log.Println("✓ Connected to archive database")

		wxRepo := db.NewWxGridRepository(database)
		rulesRepo := db.NewFlightRulesRepository(database)
		srv.wxArchive = wxRepo
		srv.rulesArchive = rulesRepo
		srv.history = db.NewSnapshotRepository(database)
		restoreState(ctx, srv, wxRepo, rulesRepo, cfg.Ingest.ReplaySize)
	}

	srv.setupRoutes()

	feedSvc.Start(ctx)
	defer feedSvc.Stop()
	go srv.hub.run(ctx, feedSvc, srv.aircraftFrame)

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     srv,
		ReadTimeout: 15 * time.Second,
		// Event streams and sockets stay open; no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("📡 Server listening on %s", cfg.Server.Addr())
		logger.Info("Server listening", "addr", cfg.Server.Addr(), "tls", cfg.Server.TLSEnabled)
		var err error
		if cfg.Server.TLSEnabled {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("👋 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Println("✅ Server stopped")
	return nil
}

// restoreState warms the flight rules replay and side channel and the
// ingested grid from the archive.
func restoreState(ctx context.Context, srv *Server, wxRepo *db.WxGridRepository, rulesRepo *db.FlightRulesRepository, replaySize int) {
	msgs, err := rulesRepo.Recent(ctx, replaySize)
	if err != nil {
		srv.logger.Warn("Failed to restore flight rules", "error", err)
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		srv.broadcaster.Publish(string(b))
	}
	srv.engine.Rules.Apply(msgs...)

	g, err := wxRepo.Latest(ctx, db.WxSourceIngest)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		srv.logger.Warn("Failed to restore wx grid", "error", err)
	case time.Since(time.UnixMilli(g.UpdatedAtMs)) <= maxRestoredGridAge:
		srv.wxStore.Replace(g)
	}
	srv.logger.Info("Restored archived state", "flightRules", len(msgs), "wxGrid", srv.wxStore.Latest() != nil)
}
