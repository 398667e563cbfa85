package thumbstore

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/jacktea/clipview/pkg/xerrors"
)

// Stats describes the shape of the store tree.
type Stats struct {
	Entries  int `json:"entries"`
	Buckets  int `json:"buckets"`
	MaxDepth int `json:"max_depth"`
}

// Stats walks the tree and reports entry and bucket counts plus the
// deepest partition level. Like Lookup it runs outside the barrier, so
// numbers are best-effort while writes are in flight.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Tolerate entries vanishing under the walk.
			return nil
		}
		name := d.Name()
		if path != s.root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != s.root {
				stats.Buckets++
			}
			return nil
		}
		stats.Entries++
		depth := strings.Count(s.rel(path), "/")
		if depth > stats.MaxDepth {
			stats.MaxDepth = depth
		}
		return nil
	})
	if err != nil {
		return Stats{}, xerrors.Wrap(xerrors.KindInternal, "Store.Stats", s.root, err)
	}
	return stats, nil
}
