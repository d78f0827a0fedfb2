package pool

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// A process's listen socket can take a moment to start accepting after the
// spawn server hands back its fd — the worker still has to finish its own
// startup. dialWithRetry absorbs that window instead of failing the first
// Session on it, the way the teacher's worker connection dialer did.
const (
	dialRetryAttempts = 5
	dialRetryInterval = 20 * time.Millisecond
)

func dialWithRetry(path string, attempts int, interval time.Duration) (net.Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(interval)
		}
	}
	return nil, lastErr
}

// Socket wraps one of a Process's listening sockets with a small pool of
// already-established Connections, per spec.md §3 ("sessionSockets: a stack
// of Socket objects; each Socket holds zero or more pooled Connections").
type Socket struct {
	Path string

	mu          sync.Mutex
	active      int // connections currently checked out
	idle        []net.Conn
	expectedUID *uint32 // set by the spawner when Options.User resolves to a uid
}

// NewSocket wraps a listening Unix domain socket path.
func NewSocket(path string) *Socket {
	return &Socket{Path: path}
}

// NewSocketWithOwner wraps a listening Unix domain socket path and arranges
// for every freshly dialed Connection to have its peer credentials checked
// against expectedUID, the uid the spawner resolved Options.User to.
func NewSocketWithOwner(path string, expectedUID uint32) *Socket {
	return &Socket{Path: path, expectedUID: &expectedUID}
}

// Connection is a borrowed net.Conn plus the fail flag spec.md §4.4.5's
// OOBW path and §4.3 both rely on: a connection marked fail is closed
// instead of recycled when checked back in.
type Connection struct {
	conn net.Conn
	fail bool
}

func (c *Connection) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *Connection) Read(b []byte) (int, error)  { return c.conn.Read(b) }
func (c *Connection) SetFail(v bool)               { c.fail = v }
func (c *Connection) Raw() net.Conn                { return c.conn }

// activeCount is used by Process.leastLoadedSocket to rank sockets.
func (s *Socket) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// checkoutConnection reuses an idle connection if one exists, otherwise
// dials a fresh one. Matches spec.md §4.3's "checks out a Connection".
func (s *Socket) checkoutConnection() *Connection {
	s.mu.Lock()
	var conn net.Conn
	if n := len(s.idle); n > 0 {
		conn = s.idle[n-1]
		s.idle = s.idle[:n-1]
	}
	s.active++
	s.mu.Unlock()

	if conn == nil {
		dialed, err := dialWithRetry(s.Path, dialRetryAttempts, dialRetryInterval)
		if err != nil {
			// The caller treats a nil conn as a hard failure by trying to
			// use it; surface that immediately instead of silently
			// returning a broken Connection.
			return &Connection{conn: nil, fail: true}
		}
		if s.expectedUID != nil {
			if unixConn, ok := dialed.(*net.UnixConn); ok {
				if cred, err := peerCredentials(unixConn); err != nil || cred.UID != *s.expectedUID {
					_ = dialed.Close()
					return &Connection{conn: nil, fail: true}
				}
			}
		}
		conn = dialed
	}
	return &Connection{conn: conn}
}

// checkinConnection returns a Connection to the pool, or closes it if
// flagged fail — per spec.md §4.3's sessionClosed and §4.4.5's OOBW probe,
// which deliberately marks its borrowed connection fail=true.
func (s *Socket) checkinConnection(c *Connection) {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()

	if c == nil || c.conn == nil {
		return
	}
	if c.fail {
		_ = c.conn.Close()
		return
	}
	s.mu.Lock()
	s.idle = append(s.idle, c.conn)
	s.mu.Unlock()
}

// closeAll closes every idle connection, used when a Process is detached
// and all its Sessions have already closed (spec.md §5: "file descriptors
// ... are closed once all Sessions referencing them have closed").
func (s *Socket) closeAll() error {
	s.mu.Lock()
	idle := s.idle
	s.idle = nil
	s.mu.Unlock()

	var err error
	for _, c := range idle {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// SocketManager manages the Unix domain socket files a freshly spawned
// Process listens on, grounded on the teacher's pkg/pyproc/socket.go
// SocketManager.
type SocketManager struct {
	dir         string
	prefix      string
	permissions os.FileMode
}

// NewSocketManager builds a SocketManager from SocketConfig.
func NewSocketManager(cfg SocketConfig) *SocketManager {
	return &SocketManager{dir: cfg.Dir, prefix: cfg.Prefix, permissions: os.FileMode(cfg.Permissions)}
}

// PathFor generates a unique socket path for a worker process.
func (sm *SocketManager) PathFor(gupid string) string {
	return filepath.Join(sm.dir, fmt.Sprintf("%s-%s.sock", sm.prefix, gupid))
}

// EnsureDir ensures the socket directory exists.
func (sm *SocketManager) EnsureDir() error {
	if err := os.MkdirAll(sm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	return nil
}

// Cleanup removes a socket file if present.
func (sm *SocketManager) Cleanup(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket file: %w", err)
	}
	return nil
}
