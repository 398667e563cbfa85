package thumbstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jacktea/clipview/pkg/xerrors"
)

var hexPrefix = regexp.MustCompile(`^[0-9a-f]{2}$`)

// partition redistributes the flat files of an over-capacity bucket into
// 256 child buckets keyed by the next two hex digits of each name, with
// the consumed prefix stripped. Entries keep their content byte for byte;
// only their location changes.
//
// The caller must hold exclusive structural access to bucket (the
// coordinator's quiescence barrier); partition takes no locks of its own.
func (s *Store) partition(bucket string) error {
	for i := 0; i < 256; i++ {
		child := filepath.Join(bucket, fmt.Sprintf("%02x", i))
		if err := os.Mkdir(child, 0o755); err != nil && !os.IsExist(err) {
			return xerrors.Wrap(xerrors.KindInternal, "Store.partition", child, err)
		}
	}
	entries, err := os.ReadDir(bucket)
	if err != nil {
		return xerrors.Wrap(xerrors.KindInternal, "Store.partition", bucket, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if len(name) <= 2 || !hexPrefix.MatchString(name[:2]) {
			// Foreign file; leave it where it is.
			s.logf("partition: skipping %s", filepath.Join(bucket, name))
			continue
		}
		source := filepath.Join(bucket, name)
		target := filepath.Join(bucket, name[:2], name[2:])
		if err := os.Rename(source, target); err != nil {
			if os.IsNotExist(err) {
				// Already handled by a racing operation.
				s.logf("partition: file disappeared mid-move: %s", source)
				continue
			}
			return xerrors.Wrap(xerrors.KindInternal, "Store.partition", source, err)
		}
	}
	return nil
}
