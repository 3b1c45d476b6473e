package crawler

import "sort"

// Frontier holds pending and visited targets. Targets handed out by
// DrainBatch sit in an in-flight set until MarkVisited resolves them, so a
// link to an in-flight page is not queued a second time.
//
// Pending targets are drained in insertion order. Frontier is not safe for
// concurrent use; the engine mutates it from a single goroutine.
type Frontier struct {
	queue    []CrawlTarget
	pending  map[CrawlTarget]struct{}
	inFlight map[CrawlTarget]struct{}
	visited  map[CrawlTarget]struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		pending:  make(map[CrawlTarget]struct{}),
		inFlight: make(map[CrawlTarget]struct{}),
		visited:  make(map[CrawlTarget]struct{}),
	}
}

// RestoreFrontier rebuilds a frontier from checkpointed membership. Entries
// listed as both pending and visited are treated as visited.
func RestoreFrontier(pending, visited []string) *Frontier {
	f := NewFrontier()
	for _, raw := range visited {
		f.visited[Normalize(raw)] = struct{}{}
	}
	for _, raw := range pending {
		f.Enqueue(Normalize(raw))
	}
	return f
}

// Enqueue adds target to pending unless it is already known. It reports
// whether the target was added.
func (f *Frontier) Enqueue(target CrawlTarget) bool {
	if target == "" || f.known(target) {
		return false
	}
	f.pending[target] = struct{}{}
	f.queue = append(f.queue, target)
	return true
}

// DrainBatch removes up to n pending targets and returns them.
func (f *Frontier) DrainBatch(n int) []CrawlTarget {
	if n <= 0 || len(f.queue) == 0 {
		return nil
	}
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := make([]CrawlTarget, n)
	copy(batch, f.queue[:n])
	f.queue = append(f.queue[:0:0], f.queue[n:]...)
	for _, t := range batch {
		delete(f.pending, t)
		f.inFlight[t] = struct{}{}
	}
	return batch
}

// MarkVisited records target as fetched, whatever the outcome.
func (f *Frontier) MarkVisited(target CrawlTarget) {
	delete(f.inFlight, target)
	if _, ok := f.pending[target]; ok {
		delete(f.pending, target)
		f.queue = removeTarget(f.queue, target)
	}
	f.visited[target] = struct{}{}
}

// IsEmpty reports whether nothing is pending.
func (f *Frontier) IsEmpty() bool {
	return len(f.queue) == 0
}

// IsVisited reports whether target was already fetched.
func (f *Frontier) IsVisited(target CrawlTarget) bool {
	_, ok := f.visited[target]
	return ok
}

// IsPending reports whether target is waiting to be drained.
func (f *Frontier) IsPending(target CrawlTarget) bool {
	_, ok := f.pending[target]
	return ok
}

// PendingLen returns the number of pending targets.
func (f *Frontier) PendingLen() int {
	return len(f.queue)
}

// VisitedLen returns the number of visited targets.
func (f *Frontier) VisitedLen() int {
	return len(f.visited)
}

// Pending returns pending targets in drain order, followed by any in-flight
// targets. In-flight targets have not been resolved yet, so a checkpoint
// must keep them scheduled.
func (f *Frontier) Pending() []string {
	out := make([]string, 0, len(f.queue)+len(f.inFlight))
	for _, t := range f.queue {
		out = append(out, string(t))
	}
	inFlight := make([]string, 0, len(f.inFlight))
	for t := range f.inFlight {
		inFlight = append(inFlight, string(t))
	}
	sort.Strings(inFlight)
	return append(out, inFlight...)
}

// Visited returns visited targets sorted lexically.
func (f *Frontier) Visited() []string {
	out := make([]string, 0, len(f.visited))
	for t := range f.visited {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

func (f *Frontier) known(target CrawlTarget) bool {
	if _, ok := f.pending[target]; ok {
		return true
	}
	if _, ok := f.inFlight[target]; ok {
		return true
	}
	_, ok := f.visited[target]
	return ok
}

func removeTarget(queue []CrawlTarget, target CrawlTarget) []CrawlTarget {
	for i, t := range queue {
		if t == target {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}
