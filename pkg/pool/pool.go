package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tkasuga/apppool/internal/protocol"
	"go.uber.org/multierr"
)

// Pool is the top-level object of spec.md §4.6: it owns the single coarse
// mutex, the SuperGroup namespace, global capacity, and the pool-level
// getWaitlist for requests that could not be served because the pool was at
// capacity and no Group could be grown or shrunk to make room.
type Pool struct {
	mu sync.Mutex

	superGroups map[string]*SuperGroup

	max         int
	maxIdleTime time.Duration

	getWaitlist []*getWaiter

	spawnerFactory SpawnerFactory
	socketManager  *SocketManager
	logger         *Logger
	config         Config
	events         *AdminEventFeed
	restartWatcher *RestartWatcher
}

// SetRestartWatcher attaches the fsnotify-driven restart-trigger fast path
// (see restart_watch.go). Every Group created after this call is registered
// with the watcher as soon as it's constructed; the poll-on-get floor
// guarantee in checkRestartTriggers keeps working regardless of whether a
// watcher was ever attached.
func (p *Pool) SetRestartWatcher(rw *RestartWatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restartWatcher = rw
}

// RestartWatcher returns the attached restart-trigger watcher, if any, so
// the caller can drive its Run loop for the lifetime of the Pool.
func (p *Pool) RestartWatcher() *RestartWatcher {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartWatcher
}

// New builds a Pool from Config. factory supplies Spawners per Group, the
// way the original wires a single process-wide spawner factory down into
// every Group it creates.
func New(cfg Config, factory SpawnerFactory, logger *Logger) *Pool {
	codec, err := protocol.NewCodec(protocol.Engine(cfg.Protocol.BodyCodec))
	if err != nil {
		codec, _ = protocol.NewCodec(protocol.EngineStdlib)
	}

	return &Pool{
		superGroups:    make(map[string]*SuperGroup),
		max:            cfg.Pool.Max,
		maxIdleTime:    cfg.Pool.MaxIdleTime,
		spawnerFactory: factory,
		socketManager:  NewSocketManager(cfg.Socket),
		logger:         logger,
		config:         cfg,
		events:         NewAdminEventFeed(codec),
	}
}

// Events returns the admin live-event feed, so callers can mount it as an
// HTTP handler (cmd/apppool wires this at MetricsConfig.WSPath).
func (p *Pool) Events() *AdminEventFeed { return p.events }

// Get implements spec.md §4.6's get(): acquire syncher, look up or create
// the SuperGroup, delegate to it. The callback is invoked from a goroutine
// spawned after syncher is released (the deferred-action pattern of
// spec.md §5), never synchronously and never under the lock.
func (p *Pool) Get(options Options, callback func(*Session, error)) {
	if err := options.Validate(); err != nil {
		go callback(nil, err)
		return
	}
	options = options.Persist()

	p.mu.Lock()
	var actions []action
	p.getLocked(options, callback, &actions)
	p.mu.Unlock()
	runActionsAsync(actions)
}

// GetSession is the blocking convenience wrapper most callers want: it
// drives Get and waits for either a Session or an error, honoring ctx
// cancellation the way spec.md §5 notes "get has no intrinsic timeout;
// callers wrap with their own."
func (p *Pool) GetSession(ctx context.Context, options Options) (*Session, error) {
	type result struct {
		session *Session
		err     error
	}
	ch := make(chan result, 1)
	p.Get(options, func(s *Session, err error) {
		ch <- result{s, err}
	})
	select {
	case r := <-ch:
		return r.session, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) superGroupName(options Options) string {
	return appNameFromRoot(options.AppRoot)
}

// getLocked implements the body of get() while holding p.mu.
func (p *Pool) getLocked(options Options, callback func(*Session, error), actions *[]action) {
	name := p.superGroupName(options)
	sg, ok := p.superGroups[name]
	if ok {
		sg.get(options, callback, actions)
		return
	}

	if p.atFullCapacityLocked() {
		if !p.tryFreeCapacityLocked(actions) {
			p.getWaitlist = append(p.getWaitlist, &getWaiter{options: options, callback: callback})
			return
		}
	}

	newSG, createActions, err := newSuperGroup(p, name, options)
	if err != nil {
		err := wrapError(KindSpawnFailed, err, "failed to create supergroup %s", name)
		*actions = append(*actions, func() { callback(nil, err) })
		return
	}
	p.superGroups[name] = newSG
	*actions = append(*actions, createActions...)
	newSG.get(options, callback, actions)
}

// totalProcessesLocked counts every Process across every Group regardless
// of enabled/disabling/disabled state, the "totalProcesses" of spec.md
// §4.6's atFullCapacity definition.
func (p *Pool) totalProcessesLocked() int {
	total := 0
	for _, sg := range p.superGroups {
		for _, g := range sg.groups {
			total += g.enabledCount() + g.disablingCount() + g.disabledCount()
		}
	}
	return total
}

// atFullCapacityLocked implements spec.md §4.6: atFullCapacity ≡
// totalProcesses >= max.
func (p *Pool) atFullCapacityLocked() bool {
	return p.max > 0 && p.totalProcessesLocked() >= p.max
}

// tryFreeCapacityLocked implements spec.md §4.6's "the pool attempts to
// free capacity by detaching an idle enabled process from the Group with
// the greatest spare utilization" when full and a get for a new Group
// arrives. Returns whether a process was detached.
func (p *Pool) tryFreeCapacityLocked(actions *[]action) bool {
	var best *Process
	bestSpare := -1
	for _, sg := range p.superGroups {
		for _, g := range sg.groups {
			for _, proc := range g.enabledProcesses {
				if proc.Sessions() != 0 {
					continue
				}
				spare := 1000 - proc.Utilization()
				if spare > bestSpare {
					best, bestSpare = proc, spare
				}
			}
		}
	}
	if best == nil {
		return false
	}
	group := best.group
	group.removeFromList(&group.enabledProcesses, best)
	if best.hasPQHandle {
		group.queue.Remove(best.pqHandle)
		best.hasPQHandle = false
	}
	p.detachProcessUnlocked(best, actions)
	return true
}

// detachProcessUnlocked implements spec.md §4.6: removes a Process from
// whichever of its Group's lists it's on and the priority queue,
// decrements counters, sets detached. Idempotent: detaching an
// already-detached Process is a no-op and returns false. Caller holds
// p.mu.
func (p *Pool) detachProcessUnlocked(process *Process, actions *[]action) bool {
	if process.Detached() {
		return false
	}

	g := process.group
	if g != nil {
		switch process.enabled {
		case ProcessEnabled:
			g.removeFromList(&g.enabledProcesses, process)
		case ProcessDisabling:
			g.removeFromList(&g.disablingProcesses, process)
			g.removeFromDisableWaitlist(process, DRCanceled, actions)
		case ProcessDisabled:
			g.removeFromList(&g.disabledProcesses, process)
		}
		if process.hasPQHandle {
			g.queue.Remove(process.pqHandle)
			process.hasPQHandle = false
		}
	}

	process.detach()

	if process.Sessions() == 0 {
		sockets := process.sockets
		*actions = append(*actions, func() {
			var err error
			for _, s := range sockets {
				err = multierr.Append(err, s.closeAll())
			}
			if err != nil {
				p.logger.WarnContext(context.Background(), "error closing sockets for detached process",
					"process", process.Inspect(), "error", err)
			}
		})
	}

	if p.events != nil {
		*actions = append(*actions, func() {
			p.events.Publish(protocol.Event{Type: protocol.EventProcessDetached, Pid: process.Pid, Gupid: process.Gupid})
		})
	}
	return true
}

// asyncDetachProcess is the convenience wrapper spec.md §4.6 names:
// schedules a detach+reap from outside any held lock.
func (p *Pool) asyncDetachProcess(process *Process, cb func()) {
	p.mu.Lock()
	var actions []action
	p.detachProcessUnlocked(process, &actions)
	p.mu.Unlock()
	if cb != nil {
		actions = append(actions, cb)
	}
	runActions(actions)
}

// assignSessionsToGetWaitersLocked implements spec.md §4.6: across all
// Groups and the pool-level waitlist, match waiters to available capacity.
// Caller holds p.mu.
func (p *Pool) assignSessionsToGetWaitersLocked(actions *[]action) {
	for _, sg := range p.superGroups {
		for _, g := range sg.groups {
			g.assignSessionsToGetWaiters(actions)
		}
	}

	if len(p.getWaitlist) == 0 {
		return
	}
	kept := p.getWaitlist[:0]
	for _, w := range p.getWaitlist {
		name := p.superGroupName(w.options)
		if sg, ok := p.superGroups[name]; ok {
			sg.get(w.options, w.callback, actions)
		} else {
			kept = append(kept, w)
		}
	}
	p.getWaitlist = kept
}

// RestartGroup asks a running Pool to restart one Group by name, the
// external trigger SPEC_FULL.md §4.7's CLI `restart <group>` subcommand
// needs alongside the filesystem restart-file trigger Group.Restart
// already serves internally. name matches Group.name ("<appRoot>#
// <componentName>", or bare <appRoot> for the default component); options
// carries the Options a fresh spawn after the restart should use.
func (p *Pool) RestartGroup(name string, options Options) error {
	p.mu.Lock()
	g := p.findGroupLocked(name)
	if g == nil {
		p.mu.Unlock()
		return wrapError(KindGroupGone, nil, "no group named %s", name)
	}
	g.Restart(options)
	p.mu.Unlock()
	return nil
}

// findGroupLocked looks a Group up by its exact name or, failing that, by
// the name of the SuperGroup that owns its default component. Caller
// holds p.mu.
func (p *Pool) findGroupLocked(name string) *Group {
	for sgName, sg := range p.superGroups {
		for _, g := range sg.groups {
			if g.name == name {
				return g
			}
		}
		if sgName == name && len(sg.groups) == 1 {
			return sg.groups[0]
		}
	}
	return nil
}

// Inspect renders a human-readable operator summary, per spec.md §4.6.
func (p *Pool) Inspect() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Pool: %d/%d processes, %d supergroups, %d waiting\n",
		p.totalProcessesLocked(), p.max, len(p.superGroups), len(p.getWaitlist))
	for name, sg := range p.superGroups {
		fmt.Fprintf(&b, "  %s:\n", name)
		for _, g := range sg.groups {
			fmt.Fprintf(&b, "    %s: enabled=%d disabling=%d disabled=%d waiting=%d spawning=%v restarting=%v\n",
				g.name, g.enabledCount(), g.disablingCount(), g.disabledCount(),
				len(g.getWaitlist), g.spawning, g.restarting)
			for _, proc := range g.enabledProcesses {
				fmt.Fprintf(&b, "      %s sessions=%d processed=%d\n", proc.Inspect(), proc.Sessions(), proc.Processed())
			}
		}
	}
	return b.String()
}

// Shutdown tears down every SuperGroup, detaching all processes.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	var actions []action
	for _, sg := range p.superGroups {
		sg.destroy(&actions)
	}
	p.superGroups = make(map[string]*SuperGroup)
	p.mu.Unlock()
	runActions(actions)
	if p.events != nil {
		p.events.Close()
	}
	return nil
}

func runActionsAsync(actions []action) {
	if len(actions) == 0 {
		return
	}
	go runActions(actions)
}
