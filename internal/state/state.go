// Package state persists crawl checkpoints. Every backend stores the same
// JSON document, so a checkpoint written by one can be moved to another.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/storage"
)

// DefaultKey names the checkpoint when none is configured.
const DefaultKey = "crawler_state.json"

// Encode renders a snapshot as the checkpoint document.
func Encode(snap crawler.Snapshot) ([]byte, error) {
	if snap.Pending == nil {
		snap.Pending = []string{}
	}
	if snap.Visited == nil {
		snap.Visited = []string{}
	}
	if snap.Results == nil {
		snap.Results = []crawler.PageResult{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a checkpoint document.
func Decode(data []byte) (crawler.Snapshot, error) {
	var snap crawler.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return crawler.Snapshot{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return snap, nil
}

// BlobStore keeps the checkpoint as a single object in a storage.BlobStore.
// Atomic replacement is the blob store's job.
type BlobStore struct {
	blobs storage.BlobStore
	key   string
}

// NewBlobStore returns a StateStore writing to key inside blobs.
func NewBlobStore(blobs storage.BlobStore, key string) (*BlobStore, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if key == "" {
		key = DefaultKey
	}
	return &BlobStore{blobs: blobs, key: key}, nil
}

// Save replaces the checkpoint object.
func (s *BlobStore) Save(ctx context.Context, snap crawler.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if _, err := s.blobs.PutObject(ctx, s.key, "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("put checkpoint %s: %w", s.key, err)
	}
	return nil
}

// Load reads the checkpoint object.
func (s *BlobStore) Load(ctx context.Context) (crawler.Snapshot, error) {
	data, err := s.blobs.GetObject(ctx, s.key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return crawler.Snapshot{}, crawler.ErrNoCheckpoint
	}
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("get checkpoint %s: %w", s.key, err)
	}
	return Decode(data)
}

// MemoryStore holds the latest checkpoint in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores an encoded copy so later mutation of snap has no effect.
func (s *MemoryStore) Save(_ context.Context, snap crawler.Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

// Load returns the last saved checkpoint.
func (s *MemoryStore) Load(_ context.Context) (crawler.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return crawler.Snapshot{}, crawler.ErrNoCheckpoint
	}
	return Decode(s.data)
}

// Saves reports how many checkpoints were written.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
