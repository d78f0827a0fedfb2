package pool

import (
	"context"
	"time"

	"github.com/tkasuga/apppool/internal/protocol"
	"github.com/tkasuga/apppool/pkg/pool/pqueue"
)

// action is one deferred side effect collected under the pool lock and run
// after it is released, per spec.md §5's "deferred-action pattern": no
// callback or expensive teardown ever runs while syncher is held.
type action func()

// getWaiter is a parked get() request (spec.md §3's GetWaiter).
type getWaiter struct {
	options  Options
	callback func(*Session, error)
}

// Group is a pool of interchangeable Processes for one named application
// component, per spec.md §3/§4.4.
type Group struct {
	name   string
	secret string

	pool       *Pool
	superGroup *SuperGroup

	pq pqueueHandleMap

	queue *pqueue.Queue

	enabledProcesses   []*Process
	disablingProcesses []*Process
	disabledProcesses  []*Process

	getWaitlist    []*getWaiter
	disableWaiters []*disableWaiter

	spawning    bool
	restarting  bool
	spawner     Spawner
	spawnCancel context.CancelFunc

	restartFile       string
	alwaysRestartFile string
	lastRestartMtime  time.Time
	lastAlwaysMtime   time.Time

	options Options

	// destroyed mirrors the original's weak-reference recheck: once true,
	// every queued callback that still references this Group must treat it
	// as gone, even though Go's GC keeps the struct alive.
	destroyed bool
}

// pqueueHandleMap is unused directly (handles live on Process), kept as a
// documentation anchor for where the priority queue handle is threaded
// through. Process.pqHandle / Process.hasPQHandle carry the real state.
type pqueueHandleMap struct{}

func newGroup(sg *SuperGroup, p *Pool, options Options) (*Group, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	spawner, err := p.spawnerFactory.Create(options)
	if err != nil {
		return nil, wrapError(KindSpawnFailed, err, "failed to create spawner for group")
	}

	restartFile, alwaysRestartFile := restartFilePaths(options)

	return &Group{
		name:              options.groupName(sg.name),
		secret:            secret,
		pool:              p,
		superGroup:        sg,
		queue:             pqueue.New(),
		spawner:           spawner,
		restartFile:       restartFile,
		alwaysRestartFile: alwaysRestartFile,
		options:           options.Persist(),
	}, nil
}

func restartFilePaths(options Options) (restartFile, alwaysRestartFile string) {
	if options.RestartDir == "" {
		return options.AppRoot + "/tmp/restart.txt", options.AppRoot + "/always_restart.txt"
	}
	return options.RestartDir + "/restart.txt", options.RestartDir + "/always_restart.txt"
}

func (g *Group) enabledCount() int   { return len(g.enabledProcesses) }
func (g *Group) disablingCount() int { return len(g.disablingProcesses) }
func (g *Group) disabledCount() int  { return len(g.disabledProcesses) }

// get implements spec.md §4.4.1. Caller holds pool.mu. actions accumulates
// deferred callback invocations to run after the caller unlocks.
func (g *Group) get(options Options, callback func(*Session, error), actions *[]action) {
	g.checkRestartTriggers()

	if g.restarting || g.enabledCount() == 0 {
		g.getWaitlist = append(g.getWaitlist, &getWaiter{options: options, callback: callback})
		if !g.spawning && g.shouldSpawn() {
			g.startSpawning()
		}
		return
	}

	top := g.queue.Top()
	if top == nil {
		g.getWaitlist = append(g.getWaitlist, &getWaiter{options: options, callback: callback})
		if !g.spawning && g.shouldSpawn() {
			g.startSpawning()
		}
		return
	}
	process := top.(*Process)

	if process.AtFullCapacity() {
		g.getWaitlist = append(g.getWaitlist, &getWaiter{options: options, callback: callback})
		if !g.spawning && g.shouldSpawn() {
			g.startSpawning()
		}
		return
	}

	session, err := process.newSession()
	if err != nil {
		*actions = append(*actions, func() { callback(nil, err) })
		return
	}
	g.queue.Decrease(process.pqHandle, process.Utilization())
	*actions = append(*actions, func() { callback(session, nil) })
}

// onSessionClose implements spec.md §4.4.2.
func (g *Group) onSessionClose(process *Process, session *Session) {
	pool := g.pool
	pool.mu.Lock()
	if process.Detached() {
		pool.mu.Unlock()
		return
	}

	process.sessionClosed(session)
	if process.enabled == ProcessEnabled && process.hasPQHandle {
		g.queue.Decrease(process.pqHandle, process.Utilization())
	}

	var actions []action
	g.asyncOOBWRequestIfNeeded(process, &actions)

	if process.enabled == ProcessDisabled {
		pool.mu.Unlock()
		runActions(actions)
		return
	}

	maxRequestsReached := g.options.MaxRequests > 0 && process.Processed() >= g.options.MaxRequests

	switch {
	case len(g.getWaitlist) > 0 && !maxRequestsReached:
		g.assignSessionsToGetWaiters(&actions)
	case process.enabled == ProcessEnabled && (len(pool.getWaitlist) > 0 || maxRequestsReached):
		pool.detachProcessUnlocked(process, &actions)
	case process.enabled == ProcessDisabling && process.Sessions() == 0 && g.enabledCount() > 0:
		g.removeFromList(&g.disablingProcesses, process)
		g.addToList(&g.disabledProcesses, process)
		process.enabled = ProcessDisabled
		g.removeFromDisableWaitlist(process, DRSuccess, &actions)
	}

	pool.mu.Unlock()
	runActions(actions)
}

// requestOOBW implements spec.md §4.4.5 step 1: latch the flag only.
func (g *Group) requestOOBW(process *Process) {
	pool := g.pool
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if process.Detached() {
		return
	}
	process.oobwRequested = true
}

// shouldSpawn implements spec.md §4.4.1's shouldSpawn().
func (g *Group) shouldSpawn() bool {
	if g.spawning {
		return false
	}
	if g.atMaxProcessesLocked() {
		return false
	}
	needsProcess := g.enabledCount() == 0
	if !needsProcess {
		top := g.queue.Top()
		needsProcess = top == nil || top.(*Process).AtFullCapacity()
	}
	return needsProcess && !g.pool.atFullCapacityLocked()
}

// atMaxProcessesLocked reports whether the group already has as many
// enabled-or-disabling processes as Options.MaxProcesses allows, per
// spec.md §8's scenario 2 ("maxProcesses:2 ... third get parks on
// getWaitlist"). MaxProcesses <= 0 means no group-local cap, leaving
// pool.max as the only ceiling.
func (g *Group) atMaxProcessesLocked() bool {
	if g.options.MaxProcesses <= 0 {
		return false
	}
	return g.enabledCount()+g.disablingCount() >= g.options.MaxProcesses
}

// attach inserts a freshly spawned process into enabledProcesses and the
// priority queue (spec.md §4.4.3 step 3).
func (g *Group) attach(process *Process, actions *[]action) {
	process.group = g
	process.enabled = ProcessEnabled
	process.hasPQHandle = true
	process.pqHandle = g.queue.Push(process)
	g.enabledProcesses = append(g.enabledProcesses, process)

	if g.pool.events != nil {
		*actions = append(*actions, func() {
			g.pool.events.Publish(protocol.Event{Type: protocol.EventProcessAttached, Group: g.name, Pid: process.Pid, Gupid: process.Gupid})
		})
	}

	if len(g.getWaitlist) == 0 {
		g.pool.assignSessionsToGetWaitersLocked(actions)
	} else {
		g.assignSessionsToGetWaiters(actions)
	}
}

// assignSessionsToGetWaiters implements the "drain getWaitlist against
// newly available capacity" behavior referenced throughout spec.md §4.4.
func (g *Group) assignSessionsToGetWaiters(actions *[]action) {
	for len(g.getWaitlist) > 0 {
		top := g.queue.Top()
		if top == nil {
			break
		}
		process := top.(*Process)
		if process.AtFullCapacity() {
			break
		}
		waiter := g.getWaitlist[0]
		session, err := process.newSession()
		if err != nil {
			break
		}
		g.queue.Decrease(process.pqHandle, process.Utilization())
		g.getWaitlist = g.getWaitlist[1:]
		cb := waiter.callback
		*actions = append(*actions, func() { cb(session, nil) })
	}
}

// assignExceptionToGetWaiters fails every waiter with the given error
// (spec.md §4.4.3 step 4).
func (g *Group) assignExceptionToGetWaiters(err error, actions *[]action) {
	waiters := g.getWaitlist
	g.getWaitlist = nil
	for _, w := range waiters {
		cb := w.callback
		*actions = append(*actions, func() { cb(nil, err) })
	}
}

func (g *Group) addToList(list *[]*Process, p *Process) {
	*list = append(*list, p)
}

func (g *Group) removeFromList(list *[]*Process, p *Process) {
	for i, candidate := range *list {
		if candidate == p {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// detachAll moves every process to detached, per spec.md §4.4.4 step 1.
func (g *Group) detachAll(actions *[]action) {
	all := make([]*Process, 0, g.enabledCount()+g.disablingCount()+g.disabledCount())
	all = append(all, g.enabledProcesses...)
	all = append(all, g.disablingProcesses...)
	all = append(all, g.disabledProcesses...)

	g.enabledProcesses = nil
	g.disablingProcesses = nil
	g.disabledProcesses = nil
	g.queue = pqueue.New()

	for _, p := range all {
		g.pool.detachProcessUnlocked(p, actions)
	}
}

func (g *Group) startSpawning() {
	g.spawning = true
	ctx, cancel := context.WithCancel(context.Background())
	g.spawnCancel = cancel
	go g.spawnLoop(ctx, g.spawner, g.options)
}

// verifyInvariants checks the quantified invariants of spec.md §4.4/§8.
// Callers invoke this in tests and in debug builds; it panics on
// violation, matching the original's assert()-based enforcement.
func (g *Group) verifyInvariants() {
	if g.enabledCount() != g.queue.Len() {
		panic(&Error{Kind: KindInvariantViolation, Message: "enabledCount != pqueue.size()"})
	}
	if len(g.getWaitlist) > 0 {
		allFull := g.enabledCount() > 0
		for _, p := range g.enabledProcesses {
			if !p.AtFullCapacity() {
				allFull = false
				break
			}
		}
		ok := g.spawning || g.restarting || g.enabledCount() == 0 || allFull
		if !ok {
			panic(&Error{Kind: KindInvariantViolation, Message: "getWaitlist non-empty without spawning/restarting/no-capacity reason"})
		}
	}
}

func runActions(actions []action) {
	for _, a := range actions {
		a()
	}
}
