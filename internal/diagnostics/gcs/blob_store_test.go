package gcs

import (
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
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/diag-bucket/o")
		assert.Equal(t, "jobextract/failed/abc.json", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `{"stage":"rendering"}`)
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{"name":"jobextract/failed/abc.json","bucket":"diag-bucket"}`)
	})
	store := newTestStore(t, handler, Config{Bucket: "diag-bucket", Prefix: "/jobextract/"})

	uri, err := store.PutObject(context.Background(), "failed/abc.json", "application/json", strings.NewReader(`{"stage":"rendering"}`))
	require.NoError(t, err)
	assert.Equal(t, "gs://diag-bucket/jobextract/failed/abc.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler, Config{Bucket: "diag-bucket"})

	_, err := store.PutObject(context.Background(), "a.json", "application/json", strings.NewReader("{}"))
	assert.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler(), Config{Bucket: "diag-bucket"})
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("{}"))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = New(client, Config{})
	assert.Error(t, err)
}
