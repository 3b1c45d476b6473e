package progress

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const defaultHistory = 256

// Tracker remembers the latest progress report and a bounded history of
// earlier ones. It is safe for concurrent use: the engine writes while API
// handlers read.
type Tracker struct {
	mu       sync.RWMutex
	latest   crawler.Progress
	seen     bool
	history  []crawler.Progress
	capacity int
}

// NewTracker returns a Tracker keeping up to capacity reports; capacity <= 0
// selects the default.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = defaultHistory
	}
	return &Tracker{capacity: capacity}
}

// Observe implements crawler.Observer.
func (t *Tracker) Observe(p crawler.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = p
	t.seen = true
	t.history = append(t.history, p)
	if over := len(t.history) - t.capacity; over > 0 {
		t.history = append(t.history[:0:0], t.history[over:]...)
	}
}

// Latest returns the most recent report, or false if none arrived yet.
func (t *Tracker) Latest() (crawler.Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.seen
}

// History returns retained reports, oldest first.
func (t *Tracker) History() []crawler.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]crawler.Progress, len(t.history))
	copy(out, t.history)
	return out
}

// LogObserver emits each report as a structured log line.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver wires a Zap logger to the observer interface.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogObserver{logger: logger}
}

// Observe implements crawler.Observer.
func (o *LogObserver) Observe(p crawler.Progress) {
	o.logger.Info("Crawl progress",
		zap.String("run_id", p.RunID),
		zap.String("state", string(p.State)),
		zap.Int("round", p.Round),
		zap.Int("pages_fetched", p.PagesFetched),
		zap.Int("pages_succeeded", p.PagesSucceeded),
		zap.Int("pages_failed", p.PagesFailed),
		zap.Int("pending", p.Pending),
		zap.Int("visited", p.Visited),
		zap.Int("budget", p.Budget),
	)
}
