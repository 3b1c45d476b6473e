package crawler

import "time"

// Session is the aggregate state of one crawl run: frontier, results, and
// the page budget. The engine owns it for the duration of a run.
type Session struct {
	RunID        string
	Frontier     *Frontier
	Results      []PageResult
	PagesFetched int
	Budget       int
}

// NewSession starts an empty session with the given budget.
func NewSession(runID string, budget int) *Session {
	return &Session{
		RunID:    runID,
		Frontier: NewFrontier(),
		Budget:   budget,
	}
}

// RestoreSession rebuilds a session from a checkpoint. Every visited URL was
// fetched exactly once, so the fetched counter is the visited count.
func RestoreSession(snap Snapshot, budget int) *Session {
	results := make([]PageResult, len(snap.Results))
	copy(results, snap.Results)
	frontier := RestoreFrontier(snap.Pending, snap.Visited)
	return &Session{
		RunID:        snap.RunID,
		Frontier:     frontier,
		Results:      results,
		PagesFetched: frontier.VisitedLen(),
		Budget:       budget,
	}
}

// Remaining returns how many fetches the budget still allows.
func (s *Session) Remaining() int {
	return s.Budget - s.PagesFetched
}

// PagesSucceeded is the number of fetched pages that produced a result.
func (s *Session) PagesSucceeded() int {
	return len(s.Results)
}

// PagesFailed is the number of fetched pages that produced no result.
func (s *Session) PagesFailed() int {
	return s.PagesFetched - len(s.Results)
}

// Snapshot copies the session into a value that shares no memory with it.
func (s *Session) Snapshot(now time.Time) Snapshot {
	results := make([]PageResult, len(s.Results))
	copy(results, s.Results)
	return Snapshot{
		RunID:        s.RunID,
		Pending:      s.Frontier.Pending(),
		Visited:      s.Frontier.Visited(),
		Results:      results,
		PagesFetched: s.PagesFetched,
		SavedAt:      now,
	}
}
