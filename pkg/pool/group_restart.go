package pool

import (
	"context"
	"os"

	"github.com/tkasuga/apppool/internal/protocol"
)

// Restart implements spec.md §4.4.4. Caller holds pool.mu; actions
// accumulates the deferred reaping of detached processes from step 1.
func (g *Group) Restart(options Options) {
	if g.restarting {
		return
	}
	g.restarting = true
	g.spawning = false
	if g.spawnCancel != nil {
		g.spawnCancel()
		g.spawnCancel = nil
	}

	var preLockActions []action
	g.detachAll(&preLockActions)

	if g.pool.events != nil {
		name := g.name
		preLockActions = append(preLockActions, func() {
			g.pool.events.Publish(protocol.Event{Type: protocol.EventGroupRestarting, Group: name})
		})
	}

	go g.finalizeRestart(options, preLockActions)
}

// finalizeRestart implements spec.md §4.4.4 step 2, running on what the
// original calls the non-interruptable thread pool: a goroutine tied to
// context.Background() so it always runs to completion regardless of
// caller cancellation.
func (g *Group) finalizeRestart(options Options, preLockActions []action) {
	runActions(preLockActions)

	newSpawner, err := g.pool.spawnerFactory.Create(options)

	pool := g.pool
	pool.mu.Lock()
	if g.destroyed {
		pool.mu.Unlock()
		return
	}

	var postLockActions []action
	if err != nil {
		// The old spawner stays in place; restart effectively fails but
		// the group remains usable with its prior configuration.
		pool.logger.ErrorContext(context.Background(), "restart failed to create spawner",
			"group", g.name, "error", err)
	} else {
		g.options = options.Persist()
		oldSpawner := g.spawner
		g.spawner = newSpawner
		_ = oldSpawner // destroyed outside the lock by falling out of scope
	}

	g.restarting = false
	if len(g.getWaitlist) > 0 && !g.spawning {
		g.startSpawning()
	}

	if pool.events != nil {
		name := g.name
		postLockActions = append(postLockActions, func() {
			pool.events.Publish(protocol.Event{Type: protocol.EventGroupRestarted, Group: name})
		})
	}

	pool.mu.Unlock()
	runActions(postLockActions)
}

// checkRestartTriggers implements spec.md §6's filesystem restart
// triggers: restart.txt is one-shot (consumed by deletion on detection),
// always_restart.txt is persistent (mtime change triggers every time).
// Called with pool.mu held, at the top of a get().
func (g *Group) checkRestartTriggers() {
	if info, err := os.Stat(g.restartFile); err == nil {
		mtime := info.ModTime()
		if mtime.After(g.lastRestartMtime) {
			g.lastRestartMtime = mtime
			_ = os.Remove(g.restartFile)
			g.Restart(g.options)
			return
		}
	}
	if info, err := os.Stat(g.alwaysRestartFile); err == nil {
		mtime := info.ModTime()
		if !mtime.Equal(g.lastAlwaysMtime) {
			g.lastAlwaysMtime = mtime
			g.Restart(g.options)
		}
	}
}
