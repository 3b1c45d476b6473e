package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	appstorage "github.com/JakeFAU/sitecrawler/internal/storage"
)

const testBucket = "test-bucket"

// newTestBlobStore creates a BlobStore pointed at a test server.
func newTestBlobStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	store, err := New(client, Config{Bucket: testBucket, Prefix: "crawls/"})
	require.NoError(t, err)
	return store
}

func TestBlobStore_PutObject(t *testing.T) {
	payload := []byte(`{"run_id":"r1"}`)

	// This handler simulates the GCS JSON API for multipart uploads.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", testBucket))
		assert.Equal(t, "crawls/state.json", r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{ "name": "crawls/state.json", "bucket": "`+testBucket+`" }`)
	})

	store := newTestBlobStore(t, handler)
	uri, err := store.PutObject(context.Background(), "state.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/crawls/state.json", uri)
}

func TestBlobStore_PutObject_Error(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	store := newTestBlobStore(t, handler)
	_, err := store.PutObject(context.Background(), "state.json", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestBlobStore_GetObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "state.json") {
			_, _ = w.Write([]byte("stored"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	store := newTestBlobStore(t, handler)

	got, err := store.GetObject(context.Background(), "state.json")
	require.NoError(t, err)
	assert.Equal(t, "stored", string(got))

	_, err = store.GetObject(context.Background(), "missing.json")
	require.ErrorIs(t, err, appstorage.ErrObjectNotFound)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Bucket: testBucket})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	t.Run("bucket reachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.Path, "/b/"+testBucket)
			fmt.Fprintln(w, `{"name":"`+testBucket+`"}`)
		}))
		t.Cleanup(server.Close)

		store, err := Open(context.Background(), Config{Bucket: testBucket},
			option.WithEndpoint(server.URL+"/storage/v1/"), option.WithoutAuthentication())
		require.NoError(t, err)
		require.NoError(t, store.Close())
	})

	t.Run("bucket check fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		t.Cleanup(server.Close)

		_, err := Open(context.Background(), Config{Bucket: testBucket},
			option.WithEndpoint(server.URL+"/storage/v1/"), option.WithoutAuthentication())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get GCS bucket")
	})
}

func TestObjectName(t *testing.T) {
	s := &BlobStore{prefix: "a/b"}
	name, err := s.objectName("/c.json")
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.json", name)

	_, err = s.objectName("  ")
	require.Error(t, err)
}
