package pool

import "context"

// Spawner is the interface Group consumes to bring up new worker processes
// (spec.md §4.2). The actual fork/exec mechanics live outside the core, in
// internal/spawner, and are reached only through this interface so the
// core never imports process-creation details.
type Spawner interface {
	// Spawn blocks until a worker is ready or returns SPAWN_FAILED. It must
	// be safely cancelable by canceling ctx (spec.md §5: "Cancellation:
	// interrupting a spawn thread causes spawn() to unwind").
	Spawn(ctx context.Context, options Options) (*Process, error)
}

// SpawnerFactory produces a Spawner appropriate for a given Options
// (spec.md §4.2: "direct fork+exec vs. preloader-based").
type SpawnerFactory interface {
	Create(options Options) (Spawner, error)
}
