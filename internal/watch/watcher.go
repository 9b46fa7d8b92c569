// Package watch monitors module directories inside the monorepo and
// enqueues low-priority to-remote sync jobs when auto-sync modules change
// on disk. Events are debounced per module so an editor save burst or a
// branch switch produces one job, not hundreds.
package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/modsync/modsync/internal/store"
)

// Enqueuer is the slice of the job queue the watcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, moduleID string, direction store.Direction, priority int) (string, error)
}

// debounce is how long a module must be quiet before its change is acted on.
const debounce = 2 * time.Second

// target is one watched module.
type target struct {
	moduleID string
	name     string
	path     string // absolute module root
}

// Watcher owns the fsnotify watch set over module directories.
type Watcher struct {
	root    string
	queue   Enqueuer
	log     *zap.Logger
	watcher *fsnotify.Watcher

	// targets sorted by descending path length so the longest prefix wins
	// when modules nest.
	targets []target

	done chan struct{}
}

// New builds a Watcher over the auto-sync modules in mods. root is the
// monorepo root that module paths are relative to.
func New(root string, mods []store.Module, queue Enqueuer, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:    root,
		queue:   queue,
		log:     log,
		watcher: fw,
		done:    make(chan struct{}),
	}
	for _, m := range mods {
		if !m.AutoSync {
			continue
		}
		w.targets = append(w.targets, target{
			moduleID: m.ID,
			name:     m.Name,
			path:     filepath.Join(root, m.Path),
		})
	}
	sort.Slice(w.targets, func(i, j int) bool {
		return len(w.targets[i].path) > len(w.targets[j].path)
	})
	return w, nil
}

// Start registers the watch set and begins dispatching. fsnotify watches are
// not recursive, so every subdirectory of every module is added explicitly.
func (w *Watcher) Start(ctx context.Context) error {
	for _, t := range w.targets {
		err := filepath.WalkDir(t.path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		})
		if err != nil {
			w.watcher.Close()
			return err
		}
	}

	go w.loop(ctx)
	return nil
}

// Stop closes the watch set and waits for the dispatch loop to exit.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]time.Time) // moduleID -> last event
	ticker := time.NewTicker(debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			t, ok := w.targetFor(event.Name)
			if !ok {
				continue
			}
			// New directories need to join the watch set.
			if event.Has(fsnotify.Create) {
				_ = w.watcher.Add(event.Name)
			}
			pending[t.moduleID] = time.Now()

		case <-ticker.C:
			now := time.Now()
			for id, at := range pending {
				if now.Sub(at) < debounce {
					continue
				}
				delete(pending, id)
				w.enqueue(ctx, id)
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// targetFor maps an event path to its owning module.
func (w *Watcher) targetFor(path string) (target, bool) {
	for _, t := range w.targets {
		if path == t.path || strings.HasPrefix(path, t.path+string(filepath.Separator)) {
			return t, true
		}
	}
	return target{}, false
}

func (w *Watcher) enqueue(ctx context.Context, moduleID string) {
	jobID, err := w.queue.Enqueue(ctx, moduleID, store.ToRemote, 0)
	if err != nil {
		w.log.Warn("watch: enqueue failed", zap.String("module", moduleID), zap.Error(err))
		return
	}
	w.log.Debug("watch: local change enqueued", zap.String("module", moduleID), zap.String("job", jobID))
}
