package pool

import "context"

// spawnLoop implements spec.md §4.4.3, mirroring the original's
// Group::spawnThreadRealMain. Runs on its own goroutine, started by
// startSpawning with g.spawning already set to true under the pool lock.
func (g *Group) spawnLoop(ctx context.Context, spawner Spawner, options Options) {
	for {
		process, err := spawner.Spawn(ctx, options)
		if ctx.Err() != nil {
			// Interrupted: unwind without touching Group state, per
			// spec.md §5's cancellation contract. The caller that
			// canceled (restart) is responsible for resetting m_spawning.
			return
		}

		pool := g.pool
		pool.mu.Lock()
		if g.destroyed {
			pool.mu.Unlock()
			return
		}

		var actions []action
		done := g.spawnLoopIteration(process, err, options, &actions)
		pool.mu.Unlock()
		runActions(actions)

		if done {
			return
		}
	}
}

// spawnLoopIteration runs one pass of the spawn loop body under the pool
// lock and reports whether the loop should terminate. Caller holds
// pool.mu.
func (g *Group) spawnLoopIteration(process *Process, spawnErr error, options Options, actions *[]action) (done bool) {
	if process != nil {
		g.attach(process, actions)
	} else {
		// spec.md §4.4.3 step 4: spawn failed.
		if g.enabledCount() == 0 {
			g.enableAllDisablingProcesses(actions)
		}
		g.assignExceptionToGetWaiters(spawnErr, actions)
		g.pool.assignSessionsToGetWaitersLocked(actions)
		done = true
	}

	// Temporarily mark not-spawning so pool.atFullCapacity() during this
	// check doesn't count this thread's in-flight spawn, mirroring the
	// original's comment in spawnThreadRealMain.
	g.spawning = false

	done = done ||
		(g.enabledCount() >= g.options.MinProcesses && len(g.getWaitlist) == 0) ||
		g.atMaxProcessesLocked() ||
		g.pool.atFullCapacityLocked() ||
		g.restarting

	g.spawning = !done
	if done {
		g.spawnCancel = nil
	}
	return done
}

// enableAllDisablingProcesses promotes every DISABLING process back to
// ENABLED, per spec.md §4.4.3 step 4: "so pending waiters have something
// to use."
func (g *Group) enableAllDisablingProcesses(actions *[]action) {
	disabling := g.disablingProcesses
	g.disablingProcesses = nil
	for _, p := range disabling {
		g.enableLocked(p, actions)
	}
}
