package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"fpsarena/server/internal/logging"
)

// RetentionPolicy defines how many replay bundles are retained on disk.
type RetentionPolicy struct {
	MaxMatches int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted replays.
type StorageStats struct {
	Matches    int       `json:"matches"`
	InProgress int       `json:"in_progress"`
	Bytes      int64     `json:"bytes"`
	LastSweep  time.Time `json:"last_sweep"`
}

// Cleaner periodically prunes bundle directories according to a retention
// policy. Bundles without a header are still being written and only age out.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided replay directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) error {
	if c == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies immediately on startup.
	c.RunOnce()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.RunOnce()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	bundles := c.collect(entries)
	now := c.now()
	stats := StorageStats{LastSweep: now}
	kept := 0
	for _, b := range bundles {
		if reason := c.removalReason(b, now, kept); reason != "" {
			err := os.RemoveAll(b.path)
			if err == nil {
				c.log.Info("replay retention removed bundle", logging.String("match", b.name), logging.String("reason", reason))
				continue
			}
			//1.- A bundle that could not be removed still counts against the budget.
			c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("match", b.name))
		}
		if b.complete {
			kept++
			stats.Matches++
		} else {
			stats.InProgress++
		}
		stats.Bytes += b.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundleDir struct {
	name     string
	path     string
	size     int64
	modTime  time.Time
	complete bool
}

func (c *Cleaner) collect(entries []os.DirEntry) []bundleDir {
	bundles := make([]bundleDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if _, err := os.Stat(filepath.Join(path, manifestFile)); err != nil {
			continue
		}
		size, modTime, err := directoryUsage(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		_, headerErr := os.Stat(filepath.Join(path, HeaderFile))
		bundles = append(bundles, bundleDir{name: entry.Name(), path: path, size: size, modTime: modTime, complete: headerErr == nil})
	}
	//1.- Newest first so the match limit favours recent bundles.
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (c *Cleaner) removalReason(b bundleDir, now time.Time, kept int) string {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if b.complete && c.policy.MaxMatches > 0 && kept >= c.policy.MaxMatches {
		reasons = append(reasons, fmt.Sprintf(">=%d matches", c.policy.MaxMatches))
	}
	return strings.Join(reasons, ", ")
}

// directoryUsage sums file sizes and finds the newest modification below root.
func directoryUsage(root string) (int64, time.Time, error) {
	var total int64
	var newest time.Time
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if !d.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, newest, err
}
