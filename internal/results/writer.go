// Package results writes the final list of page results as a JSON array.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/storage"
)

// DefaultPath is where results land when no path is configured.
const DefaultPath = "crawler_results.json"

// Writer stores results through a blob store.
type Writer struct {
	blobs storage.BlobStore
	path  string
}

// NewWriter returns a Writer targeting path inside blobs.
func NewWriter(blobs storage.BlobStore, path string) *Writer {
	if path == "" {
		path = DefaultPath
	}
	return &Writer{blobs: blobs, path: path}
}

// Marshal renders results with two-space indentation and without escaping
// non-ASCII or HTML characters.
func Marshal(results []crawler.PageResult) ([]byte, error) {
	if results == nil {
		results = []crawler.PageResult{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}
	return buf.Bytes(), nil
}

// Write stores results and returns the object URI.
func (w *Writer) Write(ctx context.Context, results []crawler.PageResult) (string, error) {
	data, err := Marshal(results)
	if err != nil {
		return "", err
	}
	uri, err := w.blobs.PutObject(ctx, w.path, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write results %s: %w", w.path, err)
	}
	return uri, nil
}
