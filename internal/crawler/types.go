package crawler

import "time"

// CrawlTarget is a normalized URL used as the unit of dedup and scheduling.
type CrawlTarget string

// String returns the target as a plain URL string.
func (t CrawlTarget) String() string {
	return string(t)
}

// PageResult is recorded for each page that was fetched with status 200.
type PageResult struct {
	URL   CrawlTarget `json:"url"`
	Title string      `json:"title"`
	Text  string      `json:"text"`
}

// OutcomeKind tags the variant held by a FetchOutcome.
type OutcomeKind int

// Fetch outcome variants.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransportFailure
	OutcomeTimeout
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// FetchOutcome is the result of one retrieval. StatusCode and Body are only
// meaningful for OutcomeSuccess; Reason only for the failure variants.
type FetchOutcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	Reason     string
	Duration   time.Duration
}

// Success builds a successful outcome. Any HTTP status is a success at the
// transport level; the engine decides what counts as content.
func Success(statusCode int, body []byte) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, StatusCode: statusCode, Body: body}
}

// TransportFailure builds a failed outcome with a human readable reason.
func TransportFailure(reason string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeTransportFailure, Reason: reason}
}

// Timeout builds a timed-out outcome.
func Timeout() FetchOutcome {
	return FetchOutcome{Kind: OutcomeTimeout, Reason: "timeout"}
}

// Retrievable reports whether the outcome carries page content.
func (o FetchOutcome) Retrievable() bool {
	return o.Kind == OutcomeSuccess && o.StatusCode == 200
}

// Extraction is what the extractor pulls out of one HTML document.
type Extraction struct {
	Title string
	Text  string
	Links []CrawlTarget
}

// State is the lifecycle state of an Engine.
type State string

// Engine states.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Snapshot is a serialized copy of a session. Stores only ever see snapshots,
// never the live session.
type Snapshot struct {
	RunID        string       `json:"run_id"`
	Pending      []string     `json:"pending"`
	Visited      []string     `json:"visited"`
	Results      []PageResult `json:"results"`
	PagesFetched int          `json:"pages_fetched"`
	SavedAt      time.Time    `json:"saved_at"`
}

// Progress is emitted to observers after every round.
type Progress struct {
	RunID          string    `json:"run_id"`
	State          State     `json:"state"`
	Round          int       `json:"round"`
	PagesFetched   int       `json:"pages_fetched"`
	PagesSucceeded int       `json:"pages_succeeded"`
	PagesFailed    int       `json:"pages_failed"`
	Pending        int       `json:"pending"`
	Visited        int       `json:"visited"`
	Budget         int       `json:"budget"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary is reported when the engine reaches a terminal state.
type Summary struct {
	RunID          string        `json:"run_id"`
	State          State         `json:"state"`
	Rounds         int           `json:"rounds"`
	PagesFetched   int           `json:"pages_fetched"`
	PagesSucceeded int           `json:"pages_succeeded"`
	PagesFailed    int           `json:"pages_failed"`
	Elapsed        time.Duration `json:"elapsed"`
	PagesPerSecond float64       `json:"pages_per_second"`
}
