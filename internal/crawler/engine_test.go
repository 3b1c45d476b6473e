package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStateStore is a mock implementation of the StateStore interface.
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) Save(ctx context.Context, snap Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockStateStore) Load(ctx context.Context) (Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(Snapshot), args.Error(1)
}

// MockFetcher is a mock implementation of the Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, rawURL string) FetchOutcome {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(FetchOutcome)
}

// fakeFetcher serves canned outcomes and counts calls per URL.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]FetchOutcome
	calls   map[string]int
	handler func(ctx context.Context, rawURL string) (FetchOutcome, bool)
}

func newFakeFetcher(pages map[string]FetchOutcome) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) FetchOutcome {
	f.mu.Lock()
	f.calls[rawURL]++
	out, ok := f.pages[rawURL]
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		if res, handled := handler(ctx, rawURL); handled {
			return res
		}
	}
	if !ok {
		return TransportFailure("connection refused")
	}
	return out
}

func (f *fakeFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// fakeExtractor returns canned extractions keyed by page URL.
type fakeExtractor struct {
	pages map[string]Extraction
}

func (f fakeExtractor) Extract(_ []byte, pageURL string) Extraction {
	return f.pages[pageURL]
}

// recordingStore keeps every snapshot it is given.
type recordingStore struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (s *recordingStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *recordingStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return Snapshot{}, ErrNoCheckpoint
	}
	return s.snapshots[len(s.snapshots)-1], nil
}

func (s *recordingStore) last() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[len(s.snapshots)-1]
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type progressLog struct {
	mu    sync.Mutex
	items []Progress
}

func (p *progressLog) Observe(pr Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, pr)
}

func ok(body string) FetchOutcome {
	return Success(200, []byte(body))
}

func testConfig(maxPages int) Config {
	return Config{
		Seeds:        []string{"https://ex.test/"},
		DomainRoot:   "https://ex.test",
		MaxPages:     maxPages,
		FetchTimeout: time.Second,
	}
}

func newTestEngine(t *testing.T, cfg Config, f Fetcher, x Extractor, store StateStore, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithIDGenerator(fixedIDs{id: "run-1"})}, opts...)
	engine, err := NewEngine(cfg, f, x, store, nil, opts...)
	require.NoError(t, err)
	return engine
}

func TestEngine_Run(t *testing.T) {
	t.Run("home page scenario stays in domain and honors budget", func(t *testing.T) {
		fetcher := newFakeFetcher(map[string]FetchOutcome{
			"https://ex.test/":  ok("home"),
			"https://ex.test/a": ok("a"),
		})
		extractor := fakeExtractor{pages: map[string]Extraction{
			"https://ex.test/": {
				Title: "Home",
				Text:  "Home welcome",
				Links: []CrawlTarget{"https://ex.test/a", "https://other.test/x"},
			},
			"https://ex.test/a": {Title: "A", Links: []CrawlTarget{"https://ex.test/b"}},
		}}
		store := &recordingStore{}
		engine := newTestEngine(t, testConfig(2), fetcher, extractor, store)

		summary, err := engine.Run(context.Background())
		require.NoError(t, err)

		require.Len(t, store.snapshots, 2)
		assert.Equal(t, []string{"https://ex.test/a"}, store.snapshots[0].Pending)
		assert.Equal(t, []string{"https://ex.test/"}, store.snapshots[0].Visited)

		results := engine.Results()
		require.Len(t, results, 2)
		assert.Equal(t, PageResult{URL: "https://ex.test/", Title: "Home", Text: "Home welcome"}, results[0])
		assert.Equal(t, CrawlTarget("https://ex.test/a"), results[1].URL)

		assert.Equal(t, 0, fetcher.count("https://other.test/x"))
		assert.Equal(t, 0, fetcher.count("https://ex.test/b"))
		assert.Equal(t, StateCompleted, engine.State())
		assert.Equal(t, 2, summary.PagesFetched)
		assert.Equal(t, 2, summary.PagesSucceeded)
		assert.Equal(t, 2, summary.Rounds)
		assert.Equal(t, "run-1", summary.RunID)
	})

	t.Run("seed timeout completes with no results", func(t *testing.T) {
		fetcher := newFakeFetcher(map[string]FetchOutcome{"https://ex.test/": Timeout()})
		store := &recordingStore{}
		engine := newTestEngine(t, testConfig(100), fetcher, fakeExtractor{}, store)

		summary, err := engine.Run(context.Background())
		require.NoError(t, err)

		snap := store.last()
		assert.Equal(t, []string{"https://ex.test/"}, snap.Visited)
		assert.Empty(t, snap.Pending)
		assert.Empty(t, snap.Results)
		assert.Equal(t, StateCompleted, summary.State)
		assert.Equal(t, 0, summary.PagesSucceeded)
		assert.Equal(t, 1, summary.PagesFetched)
		assert.Equal(t, 1, summary.PagesFailed)
	})

	t.Run("slow fetch is cut off by the timeout", func(t *testing.T) {
		fetcher := newFakeFetcher(nil)
		fetcher.handler = func(ctx context.Context, _ string) (FetchOutcome, bool) {
			<-ctx.Done()
			return TransportFailure(ctx.Err().Error()), true
		}
		cfg := testConfig(10)
		cfg.FetchTimeout = 20 * time.Millisecond
		engine := newTestEngine(t, cfg, fetcher, fakeExtractor{}, nil)

		start := time.Now()
		summary, err := engine.Run(context.Background())
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, 1, summary.PagesFailed)
		assert.Equal(t, StateCompleted, summary.State)
	})

	t.Run("fragment variants are fetched once", func(t *testing.T) {
		fetcher := newFakeFetcher(map[string]FetchOutcome{
			"https://ex.test/":  ok("home"),
			"https://ex.test/b": ok("b"),
			"https://ex.test/c": ok("c"),
		})
		extractor := fakeExtractor{pages: map[string]Extraction{
			"https://ex.test/": {Links: []CrawlTarget{
				"https://ex.test/b#top", "https://ex.test/b#bottom", "https://ex.test/c",
			}},
			"https://ex.test/b": {Links: []CrawlTarget{"https://ex.test/c#x", "https://ex.test/#home"}},
			"https://ex.test/c": {Links: []CrawlTarget{"https://ex.test/b"}},
		}}
		engine := newTestEngine(t, testConfig(50), fetcher, extractor, nil)

		summary, err := engine.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, fetcher.count("https://ex.test/"))
		assert.Equal(t, 1, fetcher.count("https://ex.test/b"))
		assert.Equal(t, 1, fetcher.count("https://ex.test/c"))
		assert.Equal(t, 3, fetcher.total())
		assert.Equal(t, 3, summary.PagesFetched)
	})

	t.Run("links to in-flight siblings are not requeued", func(t *testing.T) {
		cfg := testConfig(10)
		cfg.Seeds = []string{"https://ex.test/a", "https://ex.test/b"}
		fetcher := newFakeFetcher(map[string]FetchOutcome{
			"https://ex.test/a": ok("a"),
			"https://ex.test/b": ok("b"),
		})
		extractor := fakeExtractor{pages: map[string]Extraction{
			"https://ex.test/a": {Links: []CrawlTarget{"https://ex.test/b"}},
			"https://ex.test/b": {Links: []CrawlTarget{"https://ex.test/a"}},
		}}
		engine := newTestEngine(t, cfg, fetcher, extractor, nil)

		summary, err := engine.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Rounds)
		assert.Equal(t, 2, fetcher.total())
	})

	t.Run("one failure in a batch does not affect its sibling", func(t *testing.T) {
		cfg := testConfig(10)
		cfg.Seeds = []string{"https://ex.test/good", "https://ex.test/bad"}
		fetcher := newFakeFetcher(map[string]FetchOutcome{
			"https://ex.test/good": ok("good"),
			"https://ex.test/bad":  TransportFailure("connection reset"),
		})
		extractor := fakeExtractor{pages: map[string]Extraction{
			"https://ex.test/good": {Title: "Good"},
		}}
		store := &recordingStore{}
		engine := newTestEngine(t, cfg, fetcher, extractor, store)

		summary, err := engine.Run(context.Background())
		require.NoError(t, err)
		snap := store.last()
		require.Len(t, snap.Results, 1)
		assert.Equal(t, "Good", snap.Results[0].Title)
		assert.ElementsMatch(t, []string{"https://ex.test/good", "https://ex.test/bad"}, snap.Visited)
		assert.Equal(t, 1, summary.PagesFailed)
	})

	t.Run("non-200 status is a failure", func(t *testing.T) {
		fetcher := newFakeFetcher(map[string]FetchOutcome{"https://ex.test/": Success(404, []byte("gone"))})
		extractor := fakeExtractor{pages: map[string]Extraction{
			"https://ex.test/": {Title: "Not Found", Links: []CrawlTarget{"https://ex.test/a"}},
		}}
		engine := newTestEngine(t, testConfig(10), fetcher, extractor, nil)

		summary, err := engine.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, engine.Results())
		assert.Equal(t, 0, fetcher.count("https://ex.test/a"))
		assert.Equal(t, 1, summary.PagesFailed)
	})

	t.Run("budget bounds an unbounded link graph", func(t *testing.T) {
		fetcher := newFakeFetcher(nil)
		fetcher.handler = func(_ context.Context, _ string) (FetchOutcome, bool) {
			return ok("page"), true
		}
		extractor := chainExtractor{}
		engine := newTestEngine(t, testConfig(5), fetcher, extractor, nil)

		summary, err := engine.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, summary.PagesFetched)
		assert.Equal(t, 5, fetcher.total())
		assert.Len(t, engine.Results(), 5)
	})

	t.Run("batch size caps concurrent fetches per round", func(t *testing.T) {
		cfg := testConfig(10)
		cfg.BatchSize = 2
		cfg.Seeds = []string{"https://ex.test/1", "https://ex.test/2", "https://ex.test/3"}
		var mu sync.Mutex
		inFlight, peak := 0, 0
		fetcher := newFakeFetcher(nil)
		fetcher.handler = func(_ context.Context, _ string) (FetchOutcome, bool) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return ok("x"), true
		}
		engine := newTestEngine(t, cfg, fetcher, fakeExtractor{}, nil)

		summary, err := engine.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Rounds)
		assert.LessOrEqual(t, peak, 2)
	})

	t.Run("progress is reported after every round", func(t *testing.T) {
		fetcher := newFakeFetcher(map[string]FetchOutcome{"https://ex.test/": ok("home")})
		progress := &progressLog{}
		engine := newTestEngine(t, testConfig(5), fetcher, fakeExtractor{}, nil, WithObserver(progress))

		_, err := engine.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, progress.items, 2)
		assert.Equal(t, StateRunning, progress.items[0].State)
		assert.Equal(t, 1, progress.items[0].PagesFetched)
		assert.Equal(t, StateCompleted, progress.items[1].State)
	})
}

// chainExtractor links every page /n to /n+1 and /n+2, an unbounded graph.
type chainExtractor struct{}

func (chainExtractor) Extract(_ []byte, pageURL string) Extraction {
	var n int
	if _, err := fmt.Sscanf(pageURL, "https://ex.test/p%d", &n); err != nil {
		n = 0
	}
	return Extraction{Links: []CrawlTarget{
		CrawlTarget(fmt.Sprintf("https://ex.test/p%d", n+1)),
		CrawlTarget(fmt.Sprintf("https://ex.test/p%d", n+2)),
	}}
}

func TestEngine_Resume(t *testing.T) {
	pages := map[string]FetchOutcome{
		"https://ex.test/":  ok("home"),
		"https://ex.test/a": ok("a"),
		"https://ex.test/b": ok("b"),
		"https://ex.test/c": ok("c"),
	}
	extractor := fakeExtractor{pages: map[string]Extraction{
		"https://ex.test/":  {Title: "Home", Links: []CrawlTarget{"https://ex.test/a", "https://ex.test/b"}},
		"https://ex.test/a": {Title: "A", Links: []CrawlTarget{"https://ex.test/c"}},
		"https://ex.test/b": {Title: "B", Links: []CrawlTarget{"https://ex.test/"}},
	}}
	store := &recordingStore{}

	first := newFakeFetcher(pages)
	cfg := testConfig(2)
	cfg.BatchSize = 1
	engine := newTestEngine(t, cfg, first, extractor, store)
	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	before := store.last()
	require.ElementsMatch(t, []string{"https://ex.test/", "https://ex.test/a"}, before.Visited)

	second := newFakeFetcher(pages)
	cfg.MaxPages = 10
	resumed, err := NewEngine(cfg, second, extractor, store, nil, WithIDGenerator(fixedIDs{id: "run-2"}))
	require.NoError(t, err)
	summary, err := resumed.Run(context.Background())
	require.NoError(t, err)

	after := store.last()
	assert.Subset(t, after.Visited, before.Visited)
	for _, visited := range before.Visited {
		assert.Zero(t, second.count(visited), "re-fetched %s", visited)
	}
	assert.Equal(t, 1, second.count("https://ex.test/b"))
	assert.Equal(t, 1, second.count("https://ex.test/c"))
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 4, summary.PagesFetched)
	assert.Len(t, after.Results, 4)
}

func TestEngine_PersistenceFailureAborts(t *testing.T) {
	store := new(MockStateStore)
	store.On("Load", mock.Anything).Return(Snapshot{}, ErrNoCheckpoint)
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	fetcher := newFakeFetcher(map[string]FetchOutcome{"https://ex.test/": ok("home")})
	engine := newTestEngine(t, testConfig(5), fetcher, fakeExtractor{}, store)

	summary, err := engine.Run(context.Background())
	require.Error(t, err)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save checkpoint", perr.Op)
	assert.Equal(t, StateAborted, engine.State())
	assert.Equal(t, StateAborted, summary.State)
	store.AssertExpectations(t)
}

func TestEngine_LoadFailureAborts(t *testing.T) {
	store := new(MockStateStore)
	store.On("Load", mock.Anything).Return(Snapshot{}, errors.New("permission denied"))
	fetcher := new(MockFetcher)
	engine := newTestEngine(t, testConfig(5), fetcher, fakeExtractor{}, store)

	_, err := engine.Run(context.Background())
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StateAborted, engine.State())
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestEngine_CheckpointPerPage(t *testing.T) {
	cfg := testConfig(10)
	cfg.CheckpointMode = CheckpointPerPage
	cfg.Seeds = []string{"https://ex.test/a", "https://ex.test/b"}
	fetcher := newFakeFetcher(map[string]FetchOutcome{
		"https://ex.test/a": ok("a"),
		"https://ex.test/b": ok("b"),
	})
	store := &recordingStore{}
	engine := newTestEngine(t, cfg, fetcher, fakeExtractor{}, store)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.snapshots, 2)
	// The unresolved half of the batch stays scheduled in the first snapshot.
	assert.Equal(t, []string{"https://ex.test/a"}, store.snapshots[0].Visited)
	assert.Equal(t, []string{"https://ex.test/b"}, store.snapshots[0].Pending)
	assert.Empty(t, store.snapshots[1].Pending)
}

func TestEngine_ContextCanceled(t *testing.T) {
	fetcher := new(MockFetcher)
	engine := newTestEngine(t, testConfig(5), fetcher, fakeExtractor{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, engine.State())
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestEngine_CancelMidRoundLeavesBatchPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newFakeFetcher(nil)
	fetcher.handler = func(_ context.Context, _ string) (FetchOutcome, bool) {
		cancel()
		return TransportFailure("canceled"), true
	}
	engine := newTestEngine(t, testConfig(5), fetcher, fakeExtractor{}, nil)

	_, err := engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	snap, ok := engine.Snapshot()
	require.True(t, ok)
	assert.Empty(t, snap.Visited)
	assert.Equal(t, []string{"https://ex.test/"}, snap.Pending)
}

func TestEngine_RunTwice(t *testing.T) {
	fetcher := newFakeFetcher(map[string]FetchOutcome{"https://ex.test/": ok("home")})
	engine := newTestEngine(t, testConfig(5), fetcher, fakeExtractor{}, nil)
	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	require.Error(t, err)
}

func TestNewEngine_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no seeds", func(c *Config) { c.Seeds = nil }},
		{"malformed seed", func(c *Config) { c.Seeds = []string{"://bad"} }},
		{"seed outside domain", func(c *Config) { c.Seeds = []string{"https://other.test/"} }},
		{"relative domain root", func(c *Config) { c.DomainRoot = "ex.test" }},
		{"zero max pages", func(c *Config) { c.MaxPages = 0 }},
		{"negative max pages", func(c *Config) { c.MaxPages = -3 }},
		{"zero timeout", func(c *Config) { c.FetchTimeout = 0 }},
		{"negative batch", func(c *Config) { c.BatchSize = -1 }},
		{"unknown checkpoint mode", func(c *Config) { c.CheckpointMode = "hourly" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(10)
			tt.mutate(&cfg)
			_, err := NewEngine(cfg, new(MockFetcher), fakeExtractor{}, nil, nil)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	t.Run("missing collaborators", func(t *testing.T) {
		_, err := NewEngine(testConfig(10), nil, fakeExtractor{}, nil, nil)
		require.ErrorIs(t, err, ErrInvalidInput)
		_, err = NewEngine(testConfig(10), new(MockFetcher), nil, nil, nil)
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}
