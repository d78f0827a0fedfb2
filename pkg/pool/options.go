package pool

import "time"

// AppType enumerates the recognized application types a Spawner knows how
// to start (spec.md §3: "appType (enum)"). The core never interprets these
// beyond passing them to the Spawner and to SuperGroup component routing.
type AppType string

const (
	AppTypeRack    AppType = "rack"
	AppTypeWSGI    AppType = "wsgi"
	AppTypeNode    AppType = "node"
	AppTypeGeneric AppType = "generic"
)

// Options is the immutable configuration passed with every get(). Per
// spec.md §3, it is persisted (embedded strings copied) before being stored
// past the scope of the caller; Persist returns that copy.
type Options struct {
	AppRoot      string
	AppType      AppType
	User         string
	Group        string
	Environment  string
	MinProcesses int
	MaxProcesses int
	MaxRequests  int
	MaxPreloaderIdleTime time.Duration
	RestartDir   string
	SpawnMethod  string

	// ComponentName identifies which Group within a multi-component
	// SuperGroup this get() targets (spec.md §4.5). Empty means the
	// SuperGroup's sole/default Group.
	ComponentName string
}

// Validate checks the invariants spec.md §3 names: appRoot required,
// minProcesses >= 0, maxProcesses >= minProcesses, maxRequests >= 0.
func (o *Options) Validate() error {
	if o.AppRoot == "" {
		return newError(KindInvariantViolation, "appRoot is required")
	}
	if o.MinProcesses < 0 {
		return newError(KindInvariantViolation, "minProcesses must be >= 0")
	}
	if o.MaxProcesses < o.MinProcesses {
		return newError(KindInvariantViolation, "maxProcesses must be >= minProcesses")
	}
	if o.MaxRequests < 0 {
		return newError(KindInvariantViolation, "maxRequests must be >= 0")
	}
	return nil
}

// Persist returns a deep copy of o suitable for storing past the scope of
// the caller (spec.md §3: "Options are persisted — embedded strings are
// copied"). Go string values are already immutable and copied by value
// assignment, so Persist's job is limited to giving the caller their own
// struct instance (no shared backing arrays to alias), matching the
// original's copyAndPersist() semantics in spirit.
func (o Options) Persist() Options {
	persisted := o
	persisted.AppRoot = string([]byte(o.AppRoot))
	persisted.RestartDir = string([]byte(o.RestartDir))
	return persisted
}

// GroupName computes the "<superGroupName>#<componentName>" name spec.md
// §3 assigns to a Group.
func (o *Options) groupName(superGroupName string) string {
	component := o.ComponentName
	if component == "" {
		component = "default"
	}
	return superGroupName + "#" + component
}

func appNameFromRoot(appRoot string) string {
	// Mirrors the common convention of naming a SuperGroup after its
	// application root when no explicit name is configured.
	return appRoot
}
