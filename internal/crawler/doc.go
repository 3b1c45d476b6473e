// Package crawler implements the domain-scoped crawl engine: URL
// normalization and scoping, the frontier, the round-based fetch loop, and
// checkpointing through a StateStore.
package crawler
