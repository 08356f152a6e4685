package service

import (
	"context"
	"sort"
	"sync"
	"time"
)

// JobGuard is exported so _test packages can exercise it directly.
type JobGuard = jobGuard

// jobGuard admits at most one run per job name and tracks when each
// active run started.
type jobGuard struct {
	mu      sync.Mutex
	started map[string]time.Time
	wg      sync.WaitGroup
}

// TryLock claims name. It returns false while another run holds it.
func (g *jobGuard) TryLock(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started == nil {
		g.started = make(map[string]time.Time)
	}
	if _, busy := g.started[name]; busy {
		return false
	}
	g.started[name] = time.Now()
	g.wg.Add(1)
	return true
}

// Unlock releases a name claimed by TryLock.
func (g *jobGuard) Unlock(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.started[name]; !ok {
		return
	}
	delete(g.started, name)
	g.wg.Done()
}

// Since reports when the active run of name started.
func (g *jobGuard) Since(name string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.started[name]
	return t, ok
}

// Active returns the names of the running jobs, sorted.
func (g *jobGuard) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.started))
	for name := range g.started {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WaitAll blocks until no run is active or ctx is done.
func (g *jobGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
