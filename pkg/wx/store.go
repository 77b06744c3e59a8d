package wx

import "sync/atomic"

// Store holds the most recently ingested grid. Grids are replaced whole and
// never mutated after Replace, so readers may keep a reference while a new
// grid is stored.
type Store struct {
	latest atomic.Pointer[Grid]
}

// Replace publishes a new grid. A nil grid clears the store.
func (s *Store) Replace(g *Grid) {
	s.latest.Store(g)
}

// Latest returns the current grid, or nil when nothing has been ingested.
func (s *Store) Latest() *Grid {
	return s.latest.Load()
}
