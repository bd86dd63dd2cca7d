// Package pool admission-controls the creation and destruction of engine
// child processes. The live set is bounded by a per-process maximum; the
// limit is enforced at creation time only.
package pool

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"leelad/internal/engine"
)

// Pool owns the set of live engine instances. It is a constructed value
// passed from the composition root, not a global registry.
type Pool struct {
	log            zerolog.Logger
	max            int
	defaultProfile string
	profiles       map[string]engine.Profile

	mu     sync.Mutex
	live   map[engine.Handle]struct{}
	online int

	// start is swappable for tests; defaults to engine.Start.
	start func(engine.Profile, zerolog.Logger) (engine.Handle, error)
}

// New builds a pool over the configured profiles. max bounds the number of
// concurrently live instances; defaultProfile serves requests that omit a
// profile name.
func New(profiles map[string]engine.Profile, max int, defaultProfile string, log zerolog.Logger) *Pool {
	byName := make(map[string]engine.Profile, len(profiles))
	for name, p := range profiles {
		name = strings.ToLower(name)
		p.Name = name
		byName[name] = p
	}
	return &Pool{
		log:            log,
		max:            max,
		defaultProfile: strings.ToLower(defaultProfile),
		profiles:       byName,
		live:           make(map[engine.Handle]struct{}),
		start: func(p engine.Profile, l zerolog.Logger) (engine.Handle, error) {
			return engine.Start(p, l)
		},
	}
}

// Acquire starts a new engine for the named profile. It fails with a
// distinguishable error when the profile is unknown or the live set is at
// the maximum; the instance self-removes from the live set on process
// exit, whether or not Release is ever called.
func (p *Pool) Acquire(profile string) (engine.Handle, error) {
	name := strings.ToLower(profile)
	if name == "" {
		name = p.defaultProfile
	}
	prof, ok := p.profiles[name]
	if !ok {
		return nil, unknownProfileError{name: name}
	}

	p.mu.Lock()
	if len(p.live) >= p.max {
		p.mu.Unlock()
		return nil, atCapacityError{}
	}
	h, err := p.start(prof, p.log)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.live[h] = struct{}{}
	live := len(p.live)
	p.mu.Unlock()

	// Registered after the lock is released: a process that died during
	// startup runs the callback inline, and remove takes the lock itself.
	h.OnExit(func() { p.remove(h) })
	p.log.Info().Str("profile", name).Int("live", live).Msg("engine acquired")
	return h, nil
}

// Release stops the instance and drops it from the live set. Tolerates a
// nil handle, double release, and racing with the exit callback.
func (p *Pool) Release(h engine.Handle) {
	if h == nil {
		return
	}
	p.remove(h)
	_ = h.Stop()
}

// remove is idempotent: the exit callback and Release may both call it.
func (p *Pool) remove(h engine.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, h)
}

// Live returns the number of live instances.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// ClientConnected records one more connected user for pending accounting.
func (p *Pool) ClientConnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online++
}

// ClientDisconnected undoes ClientConnected.
func (p *Pool) ClientDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online > 0 {
		p.online--
	}
}

// Online returns the number of connected users.
func (p *Pool) Online() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Pending estimates how many users are waiting for an engine slot:
// max(online - max, 0). Reported to clients on admission denial.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.online - p.max; n > 0 {
		return n
	}
	return 0
}
