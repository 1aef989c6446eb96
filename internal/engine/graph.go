package engine

import (
	"sync"
	"sync/atomic"
)

// Sequence hands out monotonically increasing execution ids for one graph.
// It is an explicit dependency of the graph, not package-level state, so two
// independent graphs never share a counter.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next execution id.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// graph is the state shared by every object in one aggregate. The engine is
// single-owner: one caller mutates the graph at a time. The mutex exists
// because asynchronous rule completions land on their own goroutines and must
// apply busy-count and message updates atomically relative to each other.
type graph struct {
	mu  sync.Mutex
	seq *Sequence
}

func newGraph() *graph {
	return &graph{seq: &Sequence{}}
}
