// Package spawner implements pool.Spawner against an external spawn-server
// helper process, speaking the array-message protocol spec.md §6 defines:
// request ["spawn_application", appRoot, user, group], response [pid] plus
// one passed file descriptor (the worker's listen socket). A spawn server
// that violates the protocol is restarted exactly once and the spawn is
// retried exactly once more before surfacing SPAWN_FAILED, per spec.md §6/§7.
package spawner

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/tkasuga/apppool/internal/messagechannel"
	"github.com/tkasuga/apppool/pkg/pool"
)

// socketpairFiles creates a connected pair of Unix domain sockets as
// *os.File, one to keep and one to hand to a child process via
// cmd.ExtraFiles.
func socketpairFiles() (ours, theirs *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "spawn-control"), os.NewFile(uintptr(fds[1]), "spawn-control"), nil
}

// Factory creates a Spawner per Group, each backed by its own spawn-server
// child process, the way the original gives every Group its own spawner.
type Factory struct {
	cfg           pool.SpawnerConfig
	logger        *pool.Logger
	socketManager *pool.SocketManager
}

// NewFactory builds a Factory from configuration.
func NewFactory(cfg pool.SpawnerConfig, logger *pool.Logger, sm *pool.SocketManager) *Factory {
	return &Factory{cfg: cfg, logger: logger, socketManager: sm}
}

// Create implements pool.SpawnerFactory.
func (f *Factory) Create(options pool.Options) (pool.Spawner, error) {
	return &processSpawner{
		cfg:           f.cfg,
		logger:        f.logger,
		socketManager: f.socketManager,
	}, nil
}

// processSpawner owns one long-lived spawn-server child process and the
// messagechannel connection to it. All state is protected by mu since
// Spawn may be called from concurrent spawn-loop goroutines across
// restarts, though in steady state each Group runs at most one spawn loop
// at a time.
type processSpawner struct {
	cfg           pool.SpawnerConfig
	logger        *pool.Logger
	socketManager *pool.SocketManager

	mu      sync.Mutex
	cmd     *exec.Cmd
	channel *messagechannel.Channel
	ourEnd  *os.File
}

// Spawn implements pool.Spawner. It blocks on the spawn-server round trip
// and is safely cancelable via ctx, per spec.md §5's cancellation contract.
func (s *processSpawner) Spawn(ctx context.Context, options pool.Options) (*pool.Process, error) {
	type result struct {
		process *pool.Process
		err     error
	}
	done := make(chan result, 1)

	go func() {
		process, err := s.spawnOnce(options)
		if err != nil {
			s.killLocked()
			// One restart-and-retry, per spec.md §6: "restart it once and
			// retry the spawn exactly once more."
			process, retryErr := s.spawnOnce(options)
			if retryErr != nil {
				done <- result{nil, wrapSpawnFailed(multierr.Append(err, retryErr))}
				return
			}
			done <- result{process, nil}
			return
		}
		done <- result{process, nil}
	}()

	select {
	case r := <-done:
		return r.process, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func wrapSpawnFailed(err error) error {
	return fmt.Errorf("spawn_failed: %w", err)
}

// spawnOnce ensures the spawn server is running, sends one
// spawn_application request, and assembles a Process from its response.
func (s *processSpawner) spawnOnce(options pool.Options) (*pool.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		if err := s.startLocked(); err != nil {
			return nil, err
		}
	}

	if err := s.channel.WriteArray("spawn_application", options.AppRoot, options.User, options.Group); err != nil {
		return nil, err
	}

	fields, err := s.channel.ReadArray()
	if err != nil {
		return nil, err
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("spawner: expected [pid] response, got %d fields", len(fields))
	}

	var pid int
	if _, err := fmt.Sscanf(fields[0], "%d", &pid); err != nil {
		return nil, fmt.Errorf("spawner: malformed pid %q: %w", fields[0], err)
	}

	fd, err := s.channel.ReadFileDescriptor()
	if err != nil {
		return nil, err
	}
	file := os.NewFile(uintptr(fd), "worker-listener")
	ln, err := net.FileListener(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("spawner: failed to wrap passed listen socket: %w", err)
	}
	path := ln.Addr().String()
	_ = ln.Close()

	socket := newSocketForOptions(path, options)
	return pool.NewProcess(pid, []*pool.Socket{socket}, 1), nil
}

// newSocketForOptions resolves options.User to a uid, when possible, so
// every Connection dialed against the worker's socket can be confirmed to
// belong to that user before it is handed a request. A user that doesn't
// resolve on this host (unset, or a container-only account) just falls back
// to an unchecked Socket rather than failing the spawn.
func newSocketForOptions(path string, options pool.Options) *pool.Socket {
	if options.User == "" {
		return pool.NewSocket(path)
	}
	u, err := user.Lookup(options.User)
	if err != nil {
		return pool.NewSocket(path)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return pool.NewSocket(path)
	}
	return pool.NewSocketWithOwner(path, uint32(uid))
}

// startLocked execs the spawn-server executable with one end of a Unix
// socketpair passed as its file descriptor 3, the conventional slot for an
// inherited control channel. Caller holds s.mu.
func (s *processSpawner) startLocked() error {
	ourFile, theirFile, err := socketpairFiles()
	if err != nil {
		return fmt.Errorf("spawner: failed to create control socketpair: %w", err)
	}

	cmd := exec.Command(s.cfg.Executable)
	cmd.ExtraFiles = []*os.File{theirFile}
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "APPPOOL_SPAWN_METHOD="+s.cfg.SpawnMethod)

	if err := cmd.Start(); err != nil {
		_ = ourFile.Close()
		_ = theirFile.Close()
		return fmt.Errorf("spawner: failed to start %s: %w", s.cfg.Executable, err)
	}
	_ = theirFile.Close()

	conn, err := net.FileConn(ourFile)
	if err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("spawner: failed to wrap control socket: %w", err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		_ = cmd.Process.Kill()
		return fmt.Errorf("spawner: control socket is not a unix connection")
	}

	s.cmd = cmd
	s.ourEnd = ourFile
	s.channel = messagechannel.New(unixConn)
	return nil
}

// killLocked tears down a dead or misbehaving spawn server so the next
// spawnOnce call restarts it fresh, per spec.md §6/§7's "treat the spawn
// server as dead" policy.
func (s *processSpawner) killLocked() {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
	if s.ourEnd != nil {
		_ = s.ourEnd.Close()
		s.ourEnd = nil
	}
}
