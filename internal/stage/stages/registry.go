// Package stages holds the concrete implementations of spec.md §4.H's eight
// scan stages and the registry that the orchestrator looks them up by name
// from, grounded on steps.Register/Names/Get's package-level map pattern.
package stages

import (
	"fmt"
	"sort"
	"sync"

	"github.com/surfacectl/scanhub/internal/stage"
)

var (
	mu       sync.RWMutex
	registry = make(map[string]stage.Stage)
	order    []string
)

// Register adds a stage to the registry, panicking on a duplicate name —
// a programming error, not a runtime condition.
func Register(s stage.Stage) {
	mu.Lock()
	defer mu.Unlock()
	name := s.Name()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("stages: duplicate registration: %s", name))
	}
	registry[name] = s
	order = append(order, name)
}

// Names returns every registered stage name, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := append([]string(nil), order...)
	sort.Strings(out)
	return out
}

// Get looks up a registered stage by name.
func Get(name string) (stage.Stage, bool) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[name]
	return s, ok
}
