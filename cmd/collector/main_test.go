package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unklstewy/tracon-scope/internal/db"
	"github.com/unklstewy/tracon-scope/internal/logging"
	"github.com/unklstewy/tracon-scope/internal/metrics"
	"github.com/unklstewy/tracon-scope/pkg/feed"
)

type fakeStore struct {
	inserted []int64
	err      error
}

func (f *fakeStore) Insert(ctx context.Context, resp *feed.Response) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.inserted = append(f.inserted, resp.UpdatedAtMs)
	return int64(len(f.inserted)), nil
}

type fakeArchive struct {
	cleanups []time.Duration
}

func (f *fakeArchive) CleanupOldData(ctx context.Context, maxAge time.Duration) error {
	f.cleanups = append(f.cleanups, maxAge)
	return nil
}

func (f *fakeArchive) GetStats(ctx context.Context) (db.Stats, error) {
	return db.Stats{}, nil
}

func newTestCollector(store *fakeStore, archive *fakeArchive) *Collector {
	return &Collector{
		repo:      store,
		db:        archive,
		retention: 24 * time.Hour,
		metrics:   metrics.New(),
		logger:    logging.Discard(),
	}
}

func TestCollectorRun(t *testing.T) {
	store := &fakeStore{}
	c := newTestCollector(store, &fakeArchive{})

	updates := make(chan *feed.Response, 4)
	updates <- &feed.Response{UpdatedAtMs: 0}
	updates <- &feed.Response{UpdatedAtMs: 1000}
	updates <- &feed.Response{UpdatedAtMs: 1000}
	updates <- &feed.Response{UpdatedAtMs: 6000}
	close(updates)

	c.Run(context.Background(), updates)

	if len(store.inserted) != 2 || store.inserted[0] != 1000 || store.inserted[1] != 6000 {
		t.Errorf("inserted = %v, want [1000 6000]", store.inserted)
	}
	if c.archived != 2 || c.skipped != 2 || c.failed != 0 {
		t.Errorf("archived %d, skipped %d, failed %d", c.archived, c.skipped, c.failed)
	}
}

func TestCollectorArchiveFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("pq: permission denied for table feed_snapshots")}
	c := newTestCollector(store, &fakeArchive{})

	c.archive(context.Background(), &feed.Response{UpdatedAtMs: 1000})
	if c.failed != 1 || c.lastUpdateMs != 0 {
		t.Errorf("failed %d, lastUpdateMs %d", c.failed, c.lastUpdateMs)
	}

	t.Run("Failed snapshot is retried when seen again", func(t *testing.T) {
		store.err = nil
		c.archive(context.Background(), &feed.Response{UpdatedAtMs: 1000})
		if c.archived != 1 {
			t.Errorf("archived = %d, want 1", c.archived)
		}
	})
}

func TestCollectorCleanup(t *testing.T) {
	archive := &fakeArchive{}
	c := newTestCollector(&fakeStore{}, archive)
	c.cleanup(context.Background())

	c.retention = 0
	c.cleanup(context.Background())

	if len(archive.cleanups) != 1 || archive.cleanups[0] != 24*time.Hour {
		t.Errorf("cleanups = %v", archive.cleanups)
	}
}
