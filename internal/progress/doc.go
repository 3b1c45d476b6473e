// Package progress collects the per-round progress reports an engine emits.
// Tracker keeps the latest report for the HTTP API; LogObserver writes each
// report as a structured log line.
package progress
