package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/ferry/internal/content"
)

const videoBody = `{"title":"Cell division","subject":"biology","sizeBytes":50000000,` +
	`"typeMetadata":{"durationSeconds":600},"payload":{"url":"file:///v1.mp4"}}`

func newContentServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/content/video/v1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(videoBody)))
		if r.Method == http.MethodHead {
			return
		}
		io.WriteString(w, videoBody)
	})
	mux.HandleFunc("/content/material/m1", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"title":"Notes","payload":{"markdown":"# Notes"}}`)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newContentServer(t)
	c := New(srv.URL+"/", nil)

	var (
		mu       sync.Mutex
		progress []float64
	)
	f, err := c.Fetch(context.Background(), "v1", content.KindVideo, func(pct float64) {
		mu.Lock()
		progress = append(progress, pct)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Equal(t, "Cell division", f.Title)
	require.Equal(t, int64(50_000_000), f.SizeBytes)
	require.Equal(t, 600.0, *f.Metadata.DurationSeconds)
	require.JSONEq(t, `{"url":"file:///v1.mp4"}`, string(f.Payload))

	require.NotEmpty(t, progress)
	require.Equal(t, 100.0, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		require.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

func TestFetch_SizeFallsBackToBytesRead(t *testing.T) {
	srv := newContentServer(t)
	c := New(srv.URL, nil)

	f, err := c.Fetch(context.Background(), "m1", content.KindMaterial, nil)
	require.NoError(t, err)
	require.Equal(t, int64(len(`{"title":"Notes","payload":{"markdown":"# Notes"}}`)), f.SizeBytes)
}

func TestFetch_NotFound(t *testing.T) {
	srv := newContentServer(t)
	c := New(srv.URL, nil)

	_, err := c.Fetch(context.Background(), "nope", content.KindQuiz, nil)
	require.ErrorContains(t, err, "unexpected status 404")
}

func TestSize(t *testing.T) {
	srv := newContentServer(t)
	c := New(srv.URL, nil)

	size, err := c.Size(context.Background(), "v1", content.KindVideo)
	require.NoError(t, err)
	require.Equal(t, int64(len(videoBody)), size)

	_, err = c.Size(context.Background(), "missing", content.KindVideo)
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	var (
		gotKey  string
		gotBody content.SyncEntry
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sync", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		if gotBody.Category == content.CategoryQuizResult {
			http.Error(w, "quiz closed", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	c := New(srv.URL, nil)

	entry := content.SyncEntry{
		ID:        "01HZX",
		Category:  content.CategoryProgress,
		Operation: content.OperationUpdate,
		Data:      json.RawMessage(`{"contentId":"v1","progressDelta":{"percentage":50}}`),
	}
	require.NoError(t, c.Apply(context.Background(), entry))
	require.Equal(t, "01HZX", gotKey)
	require.Equal(t, entry.Category, gotBody.Category)
	require.JSONEq(t, string(entry.Data), string(gotBody.Data))

	entry.Category = content.CategoryQuizResult
	err := c.Apply(context.Background(), entry)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "409"))
	require.True(t, strings.Contains(err.Error(), "quiz closed"))
}

func TestCheck(t *testing.T) {
	srv := newContentServer(t)
	require.True(t, New(srv.URL, nil).Check(context.Background()))

	srv.Close()
	require.False(t, New(srv.URL, nil).Check(context.Background()))
}
