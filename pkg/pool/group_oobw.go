package pool

import (
	"context"
	"time"

	"github.com/tkasuga/apppool/internal/protocol"
)

const oobwTimeout = 60 * time.Second

// asyncOOBWRequestIfNeeded implements spec.md §4.4.5 steps 1-2. Caller
// holds pool.mu.
func (g *Group) asyncOOBWRequestIfNeeded(process *Process, actions *[]action) {
	if process.Detached() || !process.oobwRequested {
		return
	}

	if process.enabled == ProcessEnabled {
		result := g.Disable(process, func(r DisableResult) {
			g.lockAndAsyncOOBWRequestIfNeeded(process)
		})
		if result == DRDeferred {
			return
		}
	}

	if process.enabled != ProcessDisabled {
		return
	}
	if process.Sessions() > 0 {
		return
	}

	*actions = append(*actions, func() {
		go g.runOOBWProbe(process)
	})
}

// lockAndAsyncOOBWRequestIfNeeded re-acquires the lock from a disable
// callback and re-enters asyncOOBWRequestIfNeeded, per spec.md §4.4.5.
func (g *Group) lockAndAsyncOOBWRequestIfNeeded(process *Process) {
	pool := g.pool
	pool.mu.Lock()
	if process.Detached() {
		pool.mu.Unlock()
		return
	}
	var actions []action
	g.asyncOOBWRequestIfNeeded(process, &actions)
	pool.mu.Unlock()
	runActions(actions)
}

// runOOBWProbe sends the OOBW session-protocol request over a fresh
// connection and re-enables the process afterward, per spec.md §4.4.5
// step 2-3. Runs on the interruptable thread pool (a plain goroutine
// here, bounded by oobwTimeout).
func (g *Group) runOOBWProbe(process *Process) {
	pool := g.pool
	pool.mu.Lock()
	if process.Detached() {
		pool.mu.Unlock()
		return
	}
	_, socket := process.leastLoadedSocket()
	pool.mu.Unlock()

	if pool.events != nil {
		pool.events.Publish(protocol.Event{Type: protocol.EventOOBWStarted, Group: g.name, Pid: process.Pid, Gupid: process.Gupid})
	}

	if socket != nil {
		ctx, cancel := context.WithTimeout(context.Background(), oobwTimeout)
		err := sendOOBWRequest(ctx, socket, process.ConnectPassword)
		cancel()
		if err != nil {
			g.pool.logger.WarnContext(context.Background(), "OOBW request failed",
				"process", process.Inspect(), "error", err)
		}
	}

	if pool.events != nil {
		pool.events.Publish(protocol.Event{Type: protocol.EventOOBWFinished, Group: g.name, Pid: process.Pid, Gupid: process.Gupid})
	}

	pool.mu.Lock()
	process.oobwRequested = false
	if process.Detached() {
		pool.mu.Unlock()
		return
	}
	var actions []action
	g.enableLocked(process, &actions)
	pool.mu.Unlock()
	runActions(actions)
}

// sendOOBWRequest speaks the worker session protocol's OOBW request over a
// borrowed Connection, marking it fail so it's closed rather than recycled
// (spec.md §4.4.5 step 2 / §6).
func sendOOBWRequest(ctx context.Context, socket *Socket, connectPassword string) error {
	conn := socket.checkoutConnection()
	conn.SetFail(true)
	defer socket.checkinConnection(conn)

	if conn.Raw() == nil {
		return newError(KindIOWrite, "no connection available for OOBW probe")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.Raw().SetDeadline(deadline)
	}

	fields := []string{"REQUEST_METHOD", "OOBW", "PASSENGER_CONNECT_PASSWORD", connectPassword}
	if err := writeSessionProtocolRequest(conn, fields); err != nil {
		return wrapError(KindIOWrite, err, "failed to write OOBW request")
	}

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		return wrapError(KindIORead, err, "failed to read OOBW response")
	}
	return nil
}
