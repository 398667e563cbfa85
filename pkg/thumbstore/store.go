// Package thumbstore implements a filesystem-backed, content-addressed
// thumbnail store. Entries are JPEG files named by the unconsumed suffix
// of a SHA-256 digest, stored in a directory tree whose fan-out grows
// adaptively: once a bucket accumulates more files than its configured
// capacity, it is partitioned into 256 child buckets keyed by the next
// two hex digits of each entry's name. Entries are never evicted, only
// relocated by partitioning.
package thumbstore

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/jacktea/clipview/pkg/xerrors"
)

// DefaultCapacity is the bucket file limit used when Config.Capacity is
// left zero.
const DefaultCapacity = 1024

// Extractor renders a single JPEG frame from a video source into target.
// On failure no file may be left at target.
type Extractor interface {
	Extract(ctx context.Context, source, target string) error
}

// Config configures a Store.
type Config struct {
	Root      string
	Capacity  int
	Extractor Extractor
	Logf      func(format string, args ...any)
}

// Store coordinates concurrent thumbnail production over a partitioned
// directory tree. The zero value is not usable; construct with New.
type Store struct {
	root      string
	capacity  int
	extractor Extractor
	logf      func(string, ...any)

	// active and partitioning form the quiescence barrier: once
	// partitioning is set no new caller passes enter, and the initiating
	// caller waits until active drains to 1 before touching the tree
	// structurally. cond is signaled on every exit and gate change.
	mu           sync.Mutex
	cond         *sync.Cond
	active       int
	partitioning bool
}

// New creates the store root if missing and returns a ready Store.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "thumbstore.New", "root")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "thumbstore.New", cfg.Root, err)
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	s := &Store{
		root:      cfg.Root,
		capacity:  capacity,
		extractor: cfg.Extractor,
		logf:      logf,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Lookup resolves identifier to a relative path within the store and
// reports whether an entry exists there. It never mutates the tree and
// never takes the partition barrier, so a miss racing a partition is
// advisory: callers should fall back to GetOrCreate, which is
// authoritative.
func (s *Store) Lookup(identifier string) (string, bool) {
	return s.LookupDigest(Digest(identifier))
}

// LookupDigest is Lookup for callers that computed the digest themselves,
// such as the batch generator addressing by frame content.
func (s *Store) LookupDigest(digest string) (string, bool) {
	bucket, leaf := resolve(s.root, digest)
	target := filepath.Join(bucket, leaf)
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return "", false
	}
	return s.rel(target), true
}

// GetOrCreate returns the relative path of the thumbnail for identifier,
// invoking the extractor on sourcePath to materialize it if absent.
// Concurrent calls for the same identifier may both extract; the second
// rename is a harmless overwrite with identical content.
func (s *Store) GetOrCreate(ctx context.Context, identifier, sourcePath string) (string, error) {
	if s.extractor == nil {
		return "", xerrors.E(xerrors.KindInvalid, "Store.GetOrCreate", "no extractor configured")
	}
	digest := Digest(identifier)
	return s.place(ctx, "Store.GetOrCreate", digest, func(target string) error {
		return s.extractor.Extract(ctx, sourcePath, target)
	})
}

// Insert adopts an already-rendered thumbnail file into the tree under a
// caller-computed digest, moving it into place. The file at path is
// consumed on success; when the entry already exists the file is removed
// and the existing entry returned.
func (s *Store) Insert(ctx context.Context, digest, path string) (string, error) {
	if len(digest) < 4 || !isLowerHex(digest) {
		return "", xerrors.E(xerrors.KindInvalid, "Store.Insert", digest)
	}
	rel, err := s.place(ctx, "Store.Insert", digest, func(target string) error {
		if err := os.Rename(path, target); err != nil {
			return xerrors.Wrap(xerrors.KindInternal, "Store.Insert", target, err)
		}
		return nil
	})
	if err == nil {
		// place may have hit the fast path with the source still around.
		if _, statErr := os.Stat(path); statErr == nil {
			os.Remove(path)
		}
	}
	return rel, err
}

// place runs the resolve/count/partition loop under the barrier and then
// materializes the entry via produce unless it already exists. produce
// must either create target atomically or leave nothing behind.
func (s *Store) place(ctx context.Context, op, digest string, produce func(target string) error) (string, error) {
	s.enter()
	defer s.exit()

	var bucket, leaf string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		bucket, leaf = resolve(s.root, digest)
		count, err := countFiles(bucket)
		if err != nil {
			return "", xerrors.Wrap(xerrors.KindInternal, op, bucket, err)
		}
		if count < s.capacity {
			break
		}
		if !s.beginPartition() {
			// Another caller rebalanced while we waited; the topology
			// changed under us, so resolve again.
			continue
		}
		s.logf("%s: partitioning %s (%d files)", op, bucket, count)
		err = s.partition(bucket)
		s.endPartition()
		if err != nil {
			return "", err
		}
	}

	target := filepath.Join(bucket, leaf)
	if _, err := os.Stat(target); err == nil {
		return s.rel(target), nil
	}
	if err := produce(target); err != nil {
		return "", err
	}
	return s.rel(target), nil
}

// enter blocks while a partition is in progress, then registers the
// caller with the barrier.
func (s *Store) enter() {
	s.mu.Lock()
	for s.partitioning {
		s.cond.Wait()
	}
	s.active++
	s.mu.Unlock()
}

// exit deregisters the caller. It runs on every exit path of place.
func (s *Store) exit() {
	s.mu.Lock()
	s.active--
	s.cond.Broadcast()
	s.mu.Unlock()
}

// beginPartition closes the gate and waits for every other registered
// caller to finish its current invocation. When another caller already
// holds the gate this caller steps aside instead: it deregisters so the
// holder can drain, waits for the gate to reopen, re-registers, and
// returns false so the loop re-resolves.
func (s *Store) beginPartition() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partitioning {
		s.active--
		s.cond.Broadcast()
		for s.partitioning {
			s.cond.Wait()
		}
		s.active++
		return false
	}
	s.partitioning = true
	for s.active > 1 {
		s.cond.Wait()
	}
	return true
}

// endPartition reopens the gate.
func (s *Store) endPartition() {
	s.mu.Lock()
	s.partitioning = false
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Store) rel(target string) string {
	rel, err := filepath.Rel(s.root, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

func isLowerHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
