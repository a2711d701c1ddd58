package driver

import "sync"

// operationGuard enforces the configure/build mutual exclusion. Check and set happen
// under one mutex so the invariant holds in a genuinely multi-threaded host, not just
// under cooperative scheduling. Acquire returns a release closure; callers run it from a
// defer so the flag can never stay stuck after a panic
type operationGuard struct {
	mu          sync.Mutex
	configuring bool
	building    bool
}

// acquireConfigure reserves the configure slot. On refusal it reports which problem
// blocks the request
func (g *operationGuard) acquireConfigure() (release func(), problem Problem, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.configuring {
		return nil, Problem_ConfigureIsAlreadyRunning, false
	}

	if g.building {
		return nil, Problem_BuildIsAlreadyRunning, false
	}

	g.configuring = true

	return func() {
		g.mu.Lock()
		g.configuring = false
		g.mu.Unlock()
	}, 0, true
}

// acquireBuild reserves the build slot, used by build, test, package and install
func (g *operationGuard) acquireBuild() (release func(), problem Problem, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.configuring {
		return nil, Problem_ConfigureIsAlreadyRunning, false
	}

	if g.building {
		return nil, Problem_BuildIsAlreadyRunning, false
	}

	g.building = true

	return func() {
		g.mu.Lock()
		g.building = false
		g.mu.Unlock()
	}, 0, true
}

// state reports the in-progress flags at one instant
func (g *operationGuard) state() (configuring, building bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.configuring, g.building
}

// idle reports whether nothing is in flight
func (g *operationGuard) idle() bool {
	configuring, building := g.state()
	return !configuring && !building
}
