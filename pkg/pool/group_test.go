package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOptionsValidate(t *testing.T) {
	cases := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{AppRoot: "/app/x"}, false},
		{"missing app root", Options{}, true},
		{"negative min processes", Options{AppRoot: "/app/x", MinProcesses: -1}, true},
		{"max below min", Options{AppRoot: "/app/x", MinProcesses: 2, MaxProcesses: 1}, true},
		{"negative max requests", Options{AppRoot: "/app/x", MaxRequests: -1}, true},
		{"zero max with positive min is invalid", Options{AppRoot: "/app/x", MinProcesses: 1, MaxProcesses: 0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestGroupAtMaxProcessesLocked exercises Group.atMaxProcessesLocked (and
// thus shouldSpawn's/spawnLoopIteration's MaxProcesses guard) directly
// against enabledProcesses/disablingProcesses counts, without needing a full
// spawn loop to reach the boundary.
func TestGroupAtMaxProcessesLocked(t *testing.T) {
	factory := newSpawnScript(t, 1)
	p := newTestPool(factory, 10)
	defer p.Shutdown(context.Background())

	sg := &SuperGroup{name: "atmax", pool: p}
	g, err := newGroup(sg, p, Options{AppRoot: "/app/atmax", MaxProcesses: 2})
	require.NoError(t, err)

	require.False(t, g.atMaxProcessesLocked())

	g.enabledProcesses = append(g.enabledProcesses, newFakeProcess(t, 1))
	require.False(t, g.atMaxProcessesLocked())

	g.enabledProcesses = append(g.enabledProcesses, newFakeProcess(t, 1))
	require.True(t, g.atMaxProcessesLocked())
	require.False(t, g.shouldSpawn())

	// A disabling process still counts against the cap: it hasn't been
	// reaped yet.
	g.enabledProcesses = g.enabledProcesses[:1]
	g.disablingProcesses = append(g.disablingProcesses, newFakeProcess(t, 1))
	require.True(t, g.atMaxProcessesLocked())

	// MaxProcesses <= 0 means no group-local cap.
	g2, err := newGroup(sg, p, Options{AppRoot: "/app/nomax"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		g2.enabledProcesses = append(g2.enabledProcesses, newFakeProcess(t, 1))
	}
	require.False(t, g2.atMaxProcessesLocked())
}

// TestSessionCountInvariant checks spec.md §8's quantified invariant that a
// Process's session count is exactly the number of open Sessions leased
// against it: it rises by exactly one per newSession and falls by exactly
// one per sessionClosed, never more.
func TestSessionCountInvariant(t *testing.T) {
	factory := newSpawnScript(t, 2)
	p := newTestPool(factory, 10)
	defer p.Shutdown(context.Background())

	opts := Options{AppRoot: "/app/sessioncount", MinProcesses: 1, MaxProcesses: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s1, err := p.GetSession(ctx, opts)
	require.NoError(t, err)
	s2, err := p.GetSession(ctx, opts)
	require.NoError(t, err)
	require.Same(t, s1.Process(), s2.Process())
	require.Equal(t, 2, s1.Process().Sessions())

	s1.Close()
	require.Equal(t, 1, s1.Process().Sessions())
	require.Equal(t, 1, s1.Process().Processed())

	s2.Close()
	require.Equal(t, 0, s1.Process().Sessions())
	require.Equal(t, 2, s1.Process().Processed())

	verifyGroupInvariants(t, p, "/app/sessioncount")
}

// TestSessionCloseIdempotent checks spec.md §8's round-trip property that
// closing a Session more than once only retires the underlying request
// exactly once.
func TestSessionCloseIdempotent(t *testing.T) {
	factory := newSpawnScript(t, 1)
	p := newTestPool(factory, 10)
	defer p.Shutdown(context.Background())

	opts := Options{AppRoot: "/app/idempotent", MinProcesses: 1, MaxProcesses: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := p.GetSession(ctx, opts)
	require.NoError(t, err)

	session.Close()
	session.Close()
	session.Close()

	require.Equal(t, 0, session.Process().Sessions())
	require.Equal(t, 1, session.Process().Processed())
}

// TestDetachProcessIdempotent checks spec.md §8's round-trip property that
// detach(p) is idempotent: a second detach of an already-detached Process is
// a no-op, not a second teardown.
func TestDetachProcessIdempotent(t *testing.T) {
	factory := newSpawnScript(t, 1)
	p := newTestPool(factory, 10)
	defer p.Shutdown(context.Background())

	opts := Options{AppRoot: "/app/detach", MinProcesses: 1, MaxProcesses: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	session, err := p.GetSession(ctx, opts)
	require.NoError(t, err)
	proc := session.Process()

	p.asyncDetachProcess(proc, nil)
	require.True(t, proc.Detached())

	p.mu.Lock()
	var actions []action
	ok := p.detachProcessUnlocked(proc, &actions)
	p.mu.Unlock()
	require.False(t, ok)
	require.Empty(t, actions)

	session.Close()
}
