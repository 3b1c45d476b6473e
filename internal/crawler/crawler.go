package crawler

import "time"

// CheckpointMode controls how often the engine saves a snapshot.
type CheckpointMode string

// Checkpoint frequencies.
const (
	CheckpointPerRound CheckpointMode = "round"
	CheckpointPerPage  CheckpointMode = "page"
)

// Config holds the settings for a crawl session.
// This struct is decoupled from Viper, making the crawler and its configuration
// more modular and easier to test independently.
type Config struct {
	Seeds          []string
	DomainRoot     string
	MaxPages       int
	FetchTimeout   time.Duration
	BatchSize      int
	CheckpointMode CheckpointMode
}

// Validate rejects configurations that must fail before any fetch.
func (c Config) Validate() error {
	if len(c.Seeds) == 0 {
		return invalidInput("at least one seed URL is required")
	}
	if err := ValidateTarget(c.DomainRoot); err != nil {
		return err
	}
	for _, seed := range c.Seeds {
		if err := ValidateTarget(seed); err != nil {
			return err
		}
		if !IsInScope(seed, c.DomainRoot) {
			return invalidInput("seed %q is outside domain %q", seed, c.DomainRoot)
		}
	}
	if c.MaxPages <= 0 {
		return invalidInput("max pages must be > 0, got %d", c.MaxPages)
	}
	if c.FetchTimeout <= 0 {
		return invalidInput("fetch timeout must be > 0, got %s", c.FetchTimeout)
	}
	if c.BatchSize < 0 {
		return invalidInput("batch size must be >= 0, got %d", c.BatchSize)
	}
	switch c.CheckpointMode {
	case "", CheckpointPerRound, CheckpointPerPage:
	default:
		return invalidInput("unknown checkpoint mode %q", c.CheckpointMode)
	}
	return nil
}
