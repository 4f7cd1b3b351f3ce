// Package gc implements C13, result-file garbage collection on the worker.
// Result files accumulate under one directory per (query, uber-job); three
// independent triggers decide when a directory is safe to remove: the
// worker restarting (everything from before the restart is stale), the
// czar restarting (the new czar can't have asked for these files), and an
// explicit per-query directive carried in C12's status message.
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/pkg/qlog"
)

// Collector tracks result-file directories under root and removes them on
// any of the three spec.md §4.13/§4.14 triggers.
type Collector struct {
	root string

	mu   sync.Mutex
	dirs map[ids.QueryID]map[ids.UberJobID]string
}

// New builds a Collector rooted at dir (pkg/config.Results.DirName).
func New(root string) *Collector {
	return &Collector{root: root, dirs: make(map[ids.QueryID]map[ids.UberJobID]string)}
}

// Track registers a result-file directory so it can later be collected.
func (c *Collector) Track(q ids.QueryID, u ids.UberJobID) {
	dir := filepath.Join(c.root, ids.QU(q, u))
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.dirs[q]
	if !ok {
		m = make(map[ids.UberJobID]string)
		c.dirs[q] = m
	}
	m[u] = dir
}

// CollectQuery removes every tracked directory for q (triggered by an
// explicit qiddonedeletefiles directive, spec.md §4.13).
func (c *Collector) CollectQuery(q ids.QueryID) error {
	c.mu.Lock()
	m, ok := c.dirs[q]
	delete(c.dirs, q)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	var firstErr error
	for _, dir := range m {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("gc: remove %s: %w", dir, err)
		}
	}
	qlog.WithComponent("wbase.gc").Info().Int64("qid", int64(q)).Int("dirs", len(m)).Msg("collected query result files")
	return firstErr
}

// CollectAll removes every tracked directory, used on worker restart: every
// result file from before this process started is for a czar epoch that
// might already be gone, and the new process has no record of which
// queries are still wanted (spec.md §4.14 S6).
func (c *Collector) CollectAll() error {
	c.mu.Lock()
	queries := make([]ids.QueryID, 0, len(c.dirs))
	for q := range c.dirs {
		queries = append(queries, q)
	}
	c.mu.Unlock()
	var firstErr error
	for _, q := range queries {
		if err := c.CollectQuery(q); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EvictUberJob removes the tracked directory for a single uber-job,
// triggered by a deaduberjobs directive (spec.md §4.13): only that
// uber-job's attempt is stale, the rest of the query is still live.
func (c *Collector) EvictUberJob(q ids.QueryID, u ids.UberJobID) error {
	c.mu.Lock()
	m, ok := c.dirs[q]
	var dir string
	if ok {
		dir, ok = m[u]
		if ok {
			delete(m, u)
			if len(m) == 0 {
				delete(c.dirs, q)
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("gc: remove %s: %w", dir, err)
	}
	qlog.WithComponent("wbase.gc").Info().Int64("qid", int64(q)).Int64("ujid", int64(u)).Msg("evicted uber-job result files")
	return nil
}

// CollectOnCzarRestart is the czar-restart trigger (spec.md §4.13): a new
// czar epoch can't have asked for files from an old one, and the old czar
// is gone so nobody will ever fetch them. It removes every tracked
// directory, exactly as CollectAll does; it takes no czar id and does not
// filter by query id.
func (c *Collector) CollectOnCzarRestart() error {
	return c.CollectAll()
}

// SweepOrphans removes on-disk result-file directories under root that the
// Collector isn't tracking at all — e.g. left behind by a crash between
// Track and a clean shutdown. Call at worker startup before accepting
// uber-jobs.
func SweepOrphans(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("gc: read result dir: %w", err)
	}
	var firstErr error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(root, e.Name())
		if err := os.RemoveAll(p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("gc: sweep %s: %w", p, err)
		}
	}
	return firstErr
}
