// Package catalog lists recorded video clips from the on-disk layout
// <data>/<YYYY-MM-DD>/<event type>/<HH-MM-SS-...>.mp4.
package catalog

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jacktea/clipview/pkg/cache"
	"github.com/jacktea/clipview/pkg/xerrors"
)

var (
	eventTypePattern = regexp.MustCompile(`^(face|smart-motion|tampering)-detection$`)
	eventFilePattern = regexp.MustCompile(`^(\d+)-(\d+)-(\d+)-`)
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// Event is one recorded clip.
type Event struct {
	EventType string `json:"event_type"`
	File      string `json:"file"`
	Timestamp string `json:"timestamp"`
}

// Options configures a Catalog.
type Options struct {
	CacheEntries int
	CacheTTL     time.Duration
}

// Catalog scans the recording tree. Listings are cached briefly so the
// UI polling loop does not hammer the filesystem.
type Catalog struct {
	dataDir string
	cache   *cache.Cache
}

// New returns a catalog over dataDir.
func New(dataDir string, opts Options) (*Catalog, error) {
	if dataDir == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "catalog.New", "data dir")
	}
	info, err := os.Stat(dataDir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindNotFound, "catalog.New", dataDir, err)
	}
	if !info.IsDir() {
		return nil, xerrors.E(xerrors.KindInvalid, "catalog.New", dataDir)
	}
	entries := opts.CacheEntries
	if entries <= 0 {
		entries = 64
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Catalog{dataDir: dataDir, cache: cache.New(entries, ttl)}, nil
}

// ValidDate reports whether date is a well-formed YYYY-MM-DD string.
func ValidDate(date string) bool {
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

// Dates lists the recording dates present on disk, newest first.
func (c *Catalog) Dates() ([]string, error) {
	if cached, ok := c.cache.Get("dates"); ok {
		return cached.([]string), nil
	}
	items, err := os.ReadDir(c.dataDir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "Catalog.Dates", c.dataDir, err)
	}
	dates := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsDir() && ValidDate(item.Name()) {
			dates = append(dates, item.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	c.cache.Set("dates", dates)
	return dates, nil
}

// Events lists the clips recorded on date, sorted chronologically.
func (c *Catalog) Events(date string) ([]Event, error) {
	if !ValidDate(date) {
		return nil, xerrors.E(xerrors.KindInvalid, "Catalog.Events", date)
	}
	if cached, ok := c.cache.Get("events:" + date); ok {
		return cached.([]Event), nil
	}
	dateDir := filepath.Join(c.dataDir, date)
	info, err := os.Stat(dateDir)
	if err != nil || !info.IsDir() {
		return nil, xerrors.E(xerrors.KindNotFound, "Catalog.Events", date)
	}
	items, err := os.ReadDir(dateDir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "Catalog.Events", dateDir, err)
	}
	var events []Event
	for _, item := range items {
		eventType := item.Name()
		if !item.IsDir() || !eventTypePattern.MatchString(eventType) {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dateDir, eventType))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindInternal, "Catalog.Events", eventType, err)
		}
		for _, file := range files {
			match := eventFilePattern.FindStringSubmatch(file.Name())
			if match == nil {
				continue
			}
			hh, _ := strconv.Atoi(match[1])
			mm, _ := strconv.Atoi(match[2])
			ss, _ := strconv.Atoi(match[3])
			clock := fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss)
			events = append(events, Event{
				EventType: eventType,
				File:      path.Join(date, eventType, file.Name()),
				Timestamp: date + "T" + clock + "Z",
			})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp < events[j].Timestamp })
	c.cache.Set("events:"+date, events)
	return events, nil
}

// Videos enumerates the playable clips under date for batch thumbnail
// generation, scanning disk directly rather than through the listing
// cache. Empty files and the scratch names the recorders leave behind
// are skipped.
func (c *Catalog) Videos(date string) ([]string, error) {
	if !ValidDate(date) {
		return nil, xerrors.E(xerrors.KindInvalid, "Catalog.Videos", date)
	}
	dateDir := filepath.Join(c.dataDir, date)
	items, err := os.ReadDir(dateDir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindNotFound, "Catalog.Videos", dateDir, err)
	}
	var videos []string
	for _, item := range items {
		eventType := item.Name()
		if !item.IsDir() || strings.HasPrefix(eventType, ".") || strings.EqualFold(eventType, "test") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dateDir, eventType))
		if err != nil {
			continue
		}
		for _, file := range files {
			name := file.Name()
			if !videoExtensions[strings.ToLower(filepath.Ext(name))] {
				continue
			}
			if strings.Contains(strings.ToLower(name), "deadbeef") {
				continue
			}
			info, err := file.Info()
			if err != nil || info.Size() == 0 {
				continue
			}
			videos = append(videos, path.Join(date, eventType, name))
		}
	}
	sort.Strings(videos)
	return videos, nil
}

// CacheStats exposes listing cache statistics.
func (c *Catalog) CacheStats() cache.Stats {
	return c.cache.Stats()
}
