package thumbstore

import (
	"os"
	"path/filepath"
	"strings"
)

const entryExt = ".jpg"

// resolve walks existing partition directories under root, consuming two
// hex characters of digest per level, and returns the bucket the entry
// lives in (or would be created in) together with its leaf filename.
//
// The walk is read-only and deterministic for a fixed tree: Lookup, the
// write path, and the partitioner all share this notion of "current
// location". Results may be stale if a partition is concurrently in
// flight; callers that need authority go through the coordinator barrier.
func resolve(root, digest string) (bucket, leaf string) {
	bucket = root
	remaining := digest
	for len(remaining) > 2 {
		child := filepath.Join(bucket, remaining[:2])
		info, err := os.Stat(child)
		if err != nil || !info.IsDir() {
			break
		}
		bucket = child
		remaining = remaining[2:]
	}
	return bucket, remaining + entryExt
}

// countFiles counts regular files directly inside dir. Dotfiles are
// ignored so bookkeeping files never count toward bucket capacity.
func countFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		count++
	}
	return count, nil
}
