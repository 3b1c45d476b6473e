package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a single URL. The deadline on ctx bounds the call; a
// Fetcher must never block past it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchOutcome
}

// Extractor turns an HTML body into title, text, and in-scope links.
// It must not fail: malformed input degrades to a partial Extraction.
type Extractor interface {
	Extract(body []byte, pageURL string) Extraction
}

// StateStore persists checkpoints. Load returns ErrNoCheckpoint when no
// prior snapshot exists.
type StateStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Observer receives a progress copy after each round.
type Observer interface {
	Observe(p Progress)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
