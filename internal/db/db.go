// Package db archives feed snapshots, weather grids and flight rules
// messages in PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/unklstewy/tracon-scope/pkg/config"
)

//go:embed schema.sql
var schemaSQL embed.FS

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// DSN builds the lib/pq connection string for cfg.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	return Open(DSN(cfg), cfg)
}

// Open connects using an explicit DSN or postgres:// URL. Pool limits are
// taken from cfg.
func Open(dsn string, cfg config.DatabaseConfig) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: sqlDB, config: cfg}, nil
}

// InitSchema creates the archive tables. Safe to run at every startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schemaBytes, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// CleanupOldData deletes archived rows older than maxAge. Track positions
// go with their snapshots.
func (db *DB) CleanupOldData(ctx context.Context, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	if _, err := db.ExecContext(ctx, `DELETE FROM feed_snapshots WHERE updated_at < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM wx_grids WHERE received_at < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to delete old wx grids: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM flight_rules_messages WHERE received_at < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to delete old flight rules: %w", err)
	}
	return nil
}

// Stats are row counts of the archive tables.
type Stats struct {
	Snapshots         int64
	TrackPositions    int64
	WxGrids           int64
	FlightRules       int64
	LatestSnapshotAge time.Duration
}

// GetStats returns archive statistics.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	counts := []struct {
		table string
		dst   *int64
	}{
		{"feed_snapshots", &s.Snapshots},
		{"track_positions", &s.TrackPositions},
		{"wx_grids", &s.WxGrids},
		{"flight_rules_messages", &s.FlightRules},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return s, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	var latest sql.NullTime
	if err := db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM feed_snapshots`).Scan(&latest); err != nil {
		return s, fmt.Errorf("failed to read latest snapshot time: %w", err)
	}
	if latest.Valid {
		s.LatestSnapshotAge = time.Since(latest.Time)
	}
	return s, nil
}
