package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/unklstewy/tracon-scope/pkg/wx"
)

// Weather grid sources.
const (
	WxSourceIngest = "ingest"
	WxSourceQuery  = "query"
)

// WxGridRepository archives weather grids as compressed blobs.
type WxGridRepository struct {
	db *DB
}

// NewWxGridRepository creates a new weather grid repository.
func NewWxGridRepository(db *DB) *WxGridRepository {
	return &WxGridRepository{db: db}
}

// Insert archives a grid.
func (r *WxGridRepository) Insert(ctx context.Context, source string, g *wx.Grid) error {
	blob, err := wx.EncodeArchive(g)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO wx_grids (source, region, width, height, peak_level, blob)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		source, string(g.Region), g.Width, g.Height, g.PeakLevel(), blob,
	)
	if err != nil {
		return fmt.Errorf("failed to insert wx grid: %w", err)
	}
	return nil
}

// Latest returns the newest archived grid from source.
func (r *WxGridRepository) Latest(ctx context.Context, source string) (*wx.Grid, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT blob FROM wx_grids WHERE source = $1 ORDER BY received_at DESC, id DESC LIMIT 1`,
		source,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest wx grid: %w", err)
	}
	return wx.DecodeArchive(blob)
}
