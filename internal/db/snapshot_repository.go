package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unklstewy/tracon-scope/pkg/feed"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// SnapshotRepository archives feed snapshots and the positions they show.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// trackRow is one track_positions row.
type trackRow struct {
	AircraftID string
	Callsign   *string
	Lat        float64
	Lon        float64
	AltitudeFt *float64
	Coast      bool
	ObservedAt time.Time
}

// trackRows flattens a snapshot into position rows, one per aircraft.
func trackRows(resp *feed.Response) (rows []trackRow, coasting int) {
	rows = make([]trackRow, 0, len(resp.Aircraft))
	for _, a := range resp.Aircraft {
		if a.Coast {
			coasting++
		}
		rows = append(rows, trackRow{
			AircraftID: a.ID,
			Callsign:   a.Callsign,
			Lat:        a.Position.Lat,
			Lon:        a.Position.Lon,
			AltitudeFt: a.AltitudeAmslFt,
			Coast:      a.Coast,
			ObservedAt: time.UnixMilli(a.Position.TimestampMs).UTC(),
		})
	}
	return rows, coasting
}

// Insert stores a snapshot and its positions in one transaction and
// returns the snapshot id.
func (r *SnapshotRepository) Insert(ctx context.Context, resp *feed.Response) (int64, error) {
	if resp == nil {
		return 0, fmt.Errorf("nil snapshot")
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return 0, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	rows, coasting := trackRows(resp)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO feed_snapshots (
			updated_at, center_lat, center_lon, radius_nm,
			aircraft_count, coasting_count, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		time.UnixMilli(resp.UpdatedAtMs).UTC(),
		resp.Center.Lat, resp.Center.Lon, resp.RadiusNm,
		len(resp.Aircraft), coasting, payload,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO track_positions (
			snapshot_id, aircraft_id, callsign, latitude, longitude,
			altitude_ft, coast, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare position insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, id, row.AircraftID, row.Callsign,
			row.Lat, row.Lon, row.AltitudeFt, row.Coast, row.ObservedAt); err != nil {
			return 0, fmt.Errorf("failed to insert position for %s: %w", row.AircraftID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return id, nil
}

// Latest returns the most recently archived snapshot.
func (r *SnapshotRepository) Latest(ctx context.Context) (*feed.Response, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM feed_snapshots ORDER BY updated_at DESC, id DESC LIMIT 1`,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	var resp feed.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &resp, nil
}

// TrackPoint is an archived position of one aircraft.
type TrackPoint struct {
	Lat        float64
	Lon        float64
	AltitudeFt *float64
	Coast      bool
	ObservedAt time.Time
}

// TrackHistory returns the archived positions of an aircraft since the
// given time, oldest first. Repeated positions from consecutive snapshots
// are collapsed.
func (r *SnapshotRepository) TrackHistory(ctx context.Context, aircraftID string, since time.Time) ([]TrackPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT latitude, longitude, altitude_ft, coast, observed_at
		 FROM track_positions
		 WHERE aircraft_id = $1 AND observed_at >= $2
		 ORDER BY observed_at ASC, id ASC`,
		aircraftID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query track history: %w", err)
	}
	defer rows.Close()

	var points []TrackPoint
	for rows.Next() {
		var p TrackPoint
		var alt sql.NullFloat64
		if err := rows.Scan(&p.Lat, &p.Lon, &alt, &p.Coast, &p.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan track point: %w", err)
		}
		if alt.Valid {
			p.AltitudeFt = &alt.Float64
		}
		points = appendDistinct(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating track points: %w", err)
	}
	return points, nil
}

// appendDistinct skips a point identical in time and place to the last one.
func appendDistinct(points []TrackPoint, p TrackPoint) []TrackPoint {
	if n := len(points); n > 0 {
		last := points[n-1]
		if last.Lat == p.Lat && last.Lon == p.Lon && last.ObservedAt.Equal(p.ObservedAt) {
			return points
		}
	}
	return append(points, p)
}
