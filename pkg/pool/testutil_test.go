package pool

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tkasuga/apppool/internal/framing"
)

var fakePID int64

// newFakeWorkerSocket stands up a real Unix domain socket listener backed by
// a temp directory, since Process.newSession/Socket.checkoutConnection dial
// a genuine net.Conn rather than going through any injected transport. The
// accept loop answers any framed session-protocol request (the only kind a
// Process ever sends, via the OOBW probe) with a single ack byte, and
// otherwise just holds the connection open the way a real worker would while
// a Session is checked out.
func newFakeWorkerSocket(t *testing.T) *Socket {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeWorkerConn(conn)
		}
	}()

	return NewSocket(path)
}

func serveFakeWorkerConn(conn net.Conn) {
	defer conn.Close()
	framer := framing.NewFramer(conn)
	for {
		if _, err := framer.ReadMessage(); err != nil {
			return
		}
		if _, err := conn.Write([]byte{1}); err != nil {
			return
		}
	}
}

// newFakeProcess builds a Process backed by a real listening socket, ready
// to be handed back from a test Spawner.
func newFakeProcess(t *testing.T, concurrency int) *Process {
	t.Helper()
	pid := int(atomic.AddInt64(&fakePID, 1))
	sock := newFakeWorkerSocket(t)
	return NewProcess(pid, []*Socket{sock}, concurrency)
}

// spawnScript is a test Spawner and SpawnerFactory in one: every Spawn call
// consults a replaceable function, so a scenario can change spawn behavior
// (failures, a different concurrency) as it progresses without rebuilding
// the Pool.
type spawnScript struct {
	mu      sync.Mutex
	spawnFn func(options Options) (*Process, error)
}

// newSpawnScript builds a spawnScript whose Spawn calls always succeed with
// a fresh fake process of the given concurrency.
func newSpawnScript(t *testing.T, concurrency int) *spawnScript {
	s := &spawnScript{}
	s.spawnFn = func(Options) (*Process, error) {
		return newFakeProcess(t, concurrency), nil
	}
	return s
}

func (s *spawnScript) setSpawnFn(fn func(options Options) (*Process, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawnFn = fn
}

func (s *spawnScript) Spawn(ctx context.Context, options Options) (*Process, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.Lock()
	fn := s.spawnFn
	s.mu.Unlock()
	return fn(options)
}

func (s *spawnScript) Create(Options) (Spawner, error) {
	return s, nil
}

// newTestPool builds a Pool wired to a quiet logger and the given
// SpawnerFactory, sized per max.
func newTestPool(factory SpawnerFactory, max int) *Pool {
	cfg := Config{
		Pool:     GlobalPoolConfig{Max: max},
		Protocol: ProtocolConfig{BodyCodec: "stdlib"},
	}
	logger := NewLogger(LoggingConfig{Level: "error", Format: "text"})
	return New(cfg, factory, logger)
}

func groupWaitlistLen(p *Pool, name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.findGroupLocked(name)
	if g == nil {
		return 0
	}
	return len(g.getWaitlist)
}

func groupEnabledCount(p *Pool, name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.findGroupLocked(name)
	if g == nil {
		return 0
	}
	return g.enabledCount()
}

func groupProcessState(p *Pool, name string, pid int) (state ProcessState, found bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.findGroupLocked(name)
	if g == nil {
		return 0, false
	}
	for _, list := range [][]*Process{g.enabledProcesses, g.disablingProcesses, g.disabledProcesses} {
		for _, proc := range list {
			if proc.Pid == pid {
				return proc.enabled, true
			}
		}
	}
	return 0, false
}

func groupRestarting(p *Pool, name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.findGroupLocked(name)
	return g != nil && g.restarting
}

func verifyGroupInvariants(t *testing.T, p *Pool, name string) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	g := p.findGroupLocked(name)
	require.NotNil(t, g)
	g.verifyInvariants()
}
