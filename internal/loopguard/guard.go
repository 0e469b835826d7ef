// Package loopguard is a circuit breaker for retry loops that stop
// converging.
//
// A Guard remembers the last actionable-feedback signature seen for each
// task. When the same signature is observed on consecutive attempts the
// guard trips, and the caller ends the retry loop regardless of how much
// budget remains.
package loopguard

import (
	"sync"

	"github.com/fyrsmithlabs/plangate/internal/retry"
)

// DefaultThreshold trips on the second identical signature in a row.
const DefaultThreshold = 2

// Verdict is the result of one observation.
type Verdict struct {
	Tripped bool `json:"tripped"`
	// Repeats counts consecutive observations of the current signature,
	// including this one.
	Repeats int `json:"repeats"`
}

type entry struct {
	signature string
	repeats   int
}

// Guard tracks signatures per task key.
type Guard struct {
	mu        sync.Mutex
	threshold int
	last      map[retry.TaskKey]entry
}

// New creates a guard that trips after threshold consecutive identical
// signatures. Values below 2 use DefaultThreshold.
func New(threshold int) *Guard {
	if threshold < 2 {
		threshold = DefaultThreshold
	}
	return &Guard{
		threshold: threshold,
		last:      make(map[retry.TaskKey]entry),
	}
}

// Observe records signature for key and reports whether the loop should be
// broken.
func (g *Guard) Observe(key retry.TaskKey, signature string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.last[key]
	if ok && e.signature == signature {
		e.repeats++
	} else {
		e = entry{signature: signature, repeats: 1}
	}
	g.last[key] = e

	return Verdict{Tripped: e.repeats >= g.threshold, Repeats: e.repeats}
}

// Reset forgets the key's history.
func (g *Guard) Reset(key retry.TaskKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, key)
}
