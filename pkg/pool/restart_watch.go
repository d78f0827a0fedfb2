package pool

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// RestartWatcher layers an fsnotify-driven fast path over the
// poll-on-get restart trigger spec.md §6 requires: watching restartDir for
// writes/removals/creates of restart.txt and always_restart.txt and
// triggering the same Group.Restart a get() would eventually trigger on
// its own. The poll-on-get path in group_restart.go's checkRestartTriggers
// remains the floor guarantee; this is strictly a latency optimization —
// if the watcher's underlying inotify/kqueue instance drops an event, the
// next get() still catches the mtime change.
type RestartWatcher struct {
	pool    *Pool
	watcher *fsnotify.Watcher
	logger  *Logger

	dirs map[string]*Group
}

// NewRestartWatcher builds a watcher bound to pool's groups.
func NewRestartWatcher(p *Pool, logger *Logger) (*RestartWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &RestartWatcher{pool: p, watcher: w, logger: logger, dirs: make(map[string]*Group)}, nil
}

// Watch starts watching g's restart directory. Caller holds pool.mu.
func (rw *RestartWatcher) Watch(g *Group) error {
	dir := filepath.Dir(g.restartFile)
	if _, already := rw.dirs[dir]; already {
		return nil
	}
	if err := rw.watcher.Add(dir); err != nil {
		return err
	}
	rw.dirs[dir] = g
	return nil
}

// Run drains watcher events until ctx is canceled. Intended to run on its
// own goroutine for the lifetime of the Pool.
func (rw *RestartWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = rw.watcher.Close()
			return
		case ev, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			rw.handleEvent(ev)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.WarnContext(ctx, "restart watcher error", "error", err)
		}
	}
}

func (rw *RestartWatcher) handleEvent(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	if base != "restart.txt" && base != "always_restart.txt" {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	dir := filepath.Dir(ev.Name)
	rw.pool.mu.Lock()
	g, ok := rw.dirs[dir]
	if ok {
		g.checkRestartTriggers()
	}
	rw.pool.mu.Unlock()
}
