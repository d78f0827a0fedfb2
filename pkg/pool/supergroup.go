package pool

import "context"

// SuperGroupState is spec.md §3's SuperGroup.state.
type SuperGroupState int

const (
	SGInitializing SuperGroupState = iota
	SGReady
	SGRestarting
	SGDestroying
	SGDestroyed
)

// SuperGroup is a namespace of one or more Groups under one logical
// application, per spec.md §3/§4.5.
type SuperGroup struct {
	name   string
	secret string
	state  SuperGroupState

	groups []*Group

	getWaitlist []*getWaiter

	pool *Pool
}

// newSuperGroup constructs a SuperGroup in INITIALIZING state and starts
// creating its default Group, per spec.md §4.5. Caller holds pool.mu.
func newSuperGroup(p *Pool, name string, options Options) (*SuperGroup, []action, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, nil, err
	}
	sg := &SuperGroup{name: name, secret: secret, state: SGInitializing, pool: p}

	group, err := newGroup(sg, p, options)
	if err != nil {
		return nil, nil, err
	}
	sg.groups = append(sg.groups, group)
	sg.state = SGReady

	if p.restartWatcher != nil {
		if err := p.restartWatcher.Watch(group); err != nil {
			p.logger.WarnContext(context.Background(), "failed to watch restart directory",
				"group", group.name, "error", err)
		}
	}

	var actions []action
	if len(sg.getWaitlist) > 0 {
		waiters := sg.getWaitlist
		sg.getWaitlist = nil
		for _, w := range waiters {
			group.get(w.options, w.callback, &actions)
		}
	}
	return sg, actions, nil
}

// get implements spec.md §4.5.
func (sg *SuperGroup) get(options Options, callback func(*Session, error), actions *[]action) {
	switch sg.state {
	case SGDestroyed, SGDestroying:
		err := wrapError(KindSuperGroupGone, nil, "supergroup %s is gone", sg.name)
		*actions = append(*actions, func() { callback(nil, err) })
	case SGInitializing, SGRestarting:
		sg.getWaitlist = append(sg.getWaitlist, &getWaiter{options: options, callback: callback})
	case SGReady:
		group := sg.selectGroup(options)
		if group == nil {
			err := wrapError(KindGroupGone, nil, "no matching group in supergroup %s", sg.name)
			*actions = append(*actions, func() { callback(nil, err) })
			return
		}
		group.get(options, callback, actions)
	}
}

// selectGroup picks the Group matching Options' ComponentName, per
// spec.md §4.5 ("single-component apps: only Group"). Route configuration
// beyond component-name matching is opaque to this core, as spec.md notes.
func (sg *SuperGroup) selectGroup(options Options) *Group {
	if len(sg.groups) == 1 {
		return sg.groups[0]
	}
	wanted := options.groupName(sg.name)
	for _, g := range sg.groups {
		if g.name == wanted {
			return g
		}
	}
	return nil
}

// destroy implements the terminal transition referenced by spec.md §7's
// SUPERGROUP_GONE: every Group is detached-all, then the SuperGroup is
// marked DESTROYED so any in-flight weak reference recheck aborts.
func (sg *SuperGroup) destroy(actions *[]action) {
	sg.state = SGDestroying
	for _, g := range sg.groups {
		g.destroyed = true
		g.detachAll(actions)
	}
	sg.state = SGDestroyed

	err := ErrSuperGroupGone
	waiters := sg.getWaitlist
	sg.getWaitlist = nil
	for _, w := range waiters {
		cb := w.callback
		*actions = append(*actions, func() { cb(nil, err) })
	}
}
