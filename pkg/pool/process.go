package pool

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/tkasuga/apppool/pkg/pool/pqueue"
)

// ProcessState mirrors spec.md §3's enabled ∈ {ENABLED, DISABLING, DISABLED}.
type ProcessState int32

const (
	ProcessEnabled ProcessState = iota
	ProcessDisabling
	ProcessDisabled
)

func (s ProcessState) String() string {
	switch s {
	case ProcessEnabled:
		return "ENABLED"
	case ProcessDisabling:
		return "DISABLING"
	case ProcessDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// Process is a single worker, per spec.md §3/§4.3. All fields are guarded
// by the owning Pool's syncher; Process itself holds no lock.
type Process struct {
	Pid             int
	Gupid           string
	ConnectPassword string

	sockets []*Socket // stack: sockets[len-1] is top, mirrors sessionSockets

	sessions  atomic.Int64
	processed atomic.Int64
	enabled   ProcessState
	oobwRequested bool
	detachedFlag  bool

	concurrency int // 0 = unlimited

	pqHandle    pqueue.Handle
	hasPQHandle bool

	group *Group // weak in spirit: always re-checked via getGroup()

	mu sync.Mutex // protects detachedFlag reads from non-lock-holding callers (Inspect)
}

// NewProcess wraps a freshly spawned worker handle. Concurrency comes from
// the Options the Spawner was given (0 = unlimited).
func NewProcess(pid int, sockets []*Socket, concurrency int) *Process {
	return &Process{
		Pid:             pid,
		Gupid:           uuid.NewString(),
		ConnectPassword: mustConnectPassword(),
		sockets:         sockets,
		enabled:         ProcessEnabled,
		concurrency:     concurrency,
	}
}

func mustConnectPassword() string {
	pw, err := generateConnectPassword()
	if err != nil {
		// crypto/rand failing is only possible if the OS entropy source
		// itself is broken; there is no sane fallback so we panic rather
		// than hand out a predictable password.
		panic(err)
	}
	return pw
}

// Utilization implements pqueue.Item. Per spec.md §3:
// utilization = sessions when concurrency == 0 (unlimited), else
// sessions/concurrency — but since the queue only needs relative order and
// concurrency differs per process, we scale to keep the comparison
// well-defined: utilization is expressed in fixed-point per-mille so that
// sessions/concurrency ratios compare correctly across processes with
// different concurrency limits.
func (p *Process) Utilization() int {
	sessions := p.sessions.Load()
	if p.concurrency == 0 {
		return int(sessions * 1000)
	}
	return int(sessions*1000) / p.concurrency
}

// AtFullCapacity implements spec.md §3: atFullCapacity ≡ sessions >= concurrency && concurrency > 0.
func (p *Process) AtFullCapacity() bool {
	return p.concurrency > 0 && p.sessions.Load() >= int64(p.concurrency)
}

// Enabled returns the current ProcessState.
func (p *Process) Enabled() ProcessState { return p.enabled }

// Sessions returns the current open-session count.
func (p *Process) Sessions() int { return int(p.sessions.Load()) }

// Processed returns the monotonically increasing completed-request count.
func (p *Process) Processed() int { return int(p.processed.Load()) }

// Detached reports the terminal flag (spec.md §3: "Once set, the Process
// is owned by no list and must be reaped"). Safe to call without holding
// the pool lock.
func (p *Process) Detached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detachedFlag
}

// detach marks the process terminal. Idempotent, per spec.md §4.3.
func (p *Process) detach() {
	p.mu.Lock()
	p.detachedFlag = true
	p.mu.Unlock()
	p.hasPQHandle = false
}

// newSession implements spec.md §4.3 newSession(): picks the least-loaded
// socket (ties by stack order), checks out a Connection, increments
// sessions. Returns AT_CAPACITY if the process is already saturated.
func (p *Process) newSession() (*Session, error) {
	if p.AtFullCapacity() {
		return nil, ErrAtCapacity
	}
	idx, sock := p.leastLoadedSocket()
	if sock == nil {
		return nil, newError(KindInvariantViolation, "process %s has no sockets", p.inspectLocked())
	}
	conn := sock.checkoutConnection()
	p.sessions.Inc()
	return &Session{process: p, socketIndex: idx, conn: conn}, nil
}

// leastLoadedSocket picks the socket with the fewest checked-out
// connections; ties broken by stack order (highest index = top of stack,
// checked first, matching sessionSockets.top() in the original).
func (p *Process) leastLoadedSocket() (int, *Socket) {
	best := -1
	bestLoad := -1
	for i := len(p.sockets) - 1; i >= 0; i-- {
		load := p.sockets[i].activeCount()
		if bestLoad == -1 || load < bestLoad {
			best, bestLoad = i, load
		}
	}
	if best == -1 {
		return -1, nil
	}
	return best, p.sockets[best]
}

// sessionClosed implements spec.md §4.3: returns the Connection, decrements
// sessions, increments processed.
func (p *Process) sessionClosed(s *Session) {
	if s.socketIndex >= 0 && s.socketIndex < len(p.sockets) {
		p.sockets[s.socketIndex].checkinConnection(s.conn)
	}
	p.sessions.Dec()
	p.processed.Inc()
}

// Inspect renders "(pid=N, group=NAME)" per spec.md §4.3.
func (p *Process) Inspect() string {
	return p.inspectLocked()
}

func (p *Process) inspectLocked() string {
	groupName := ""
	if p.group != nil {
		groupName = p.group.name
	}
	if groupName == "" {
		return fmt.Sprintf("(pid=%d)", p.Pid)
	}
	return fmt.Sprintf("(pid=%d, group=%s)", p.Pid, groupName)
}
