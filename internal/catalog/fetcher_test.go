package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(attempts int) *Fetcher {
	cfg := DefaultFetcherConfig()
	cfg.MaxAttempts = attempts
	cfg.Timeout = time.Second
	return NewFetcher(cfg, testLogger())
}

func TestFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": 1, "price": 1500, "images": ["https://img.example.com/1.jpg"]}, {"id": "x-2"}]`))
	}))
	defer server.Close()

	records, err := newTestFetcher(3).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, json.Number("1"), records[0]["id"])
	assert.Equal(t, json.Number("1500"), records[0]["price"])
	assert.Equal(t, "x-2", records[1]["id"])
}

func TestFetcher_RetriesTransientFailures(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.Write([]byte(`<html>maintenance</html>`))
		default:
			w.Write([]byte(`[{"id": "a"}]`))
		}
	}))
	defer server.Close()

	records, err := newTestFetcher(3).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetcher_ExhaustsAttempts(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestFetcher(3).Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 3, fetchErr.Attempts)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}

func TestFetcher_FetchWithAttemptsOverridesConfig(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"not": "an array"}`))
	}))
	defer server.Close()

	_, err := newTestFetcher(3).FetchWithAttempts(context.Background(), server.URL, 5)
	assert.ErrorIs(t, err, ErrFetchExhausted)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestFetcher_RejectsNonArrayBodies(t *testing.T) {
	for name, body := range map[string]string{
		"null":          `null`,
		"scalars":       `[1, 2]`,
		"truncated":     `[{"id": 1}`,
		"empty payload": ``,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			_, err := newTestFetcher(1).Fetch(context.Background(), server.URL)
			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr), "got %v", err)
		})
	}
}

func TestFetcher_EmptyArrayIsValid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	records, err := newTestFetcher(1).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetcher_InvalidURLIsNotRetried(t *testing.T) {
	for _, feedURL := range []string{"", "ftp://feeds.example.com/a.json", "/relative/path", "http://"} {
		_, err := newTestFetcher(3).Fetch(context.Background(), feedURL)
		assert.ErrorIs(t, err, ErrInvalidURL, "url %q", feedURL)
		assert.NotErrorIs(t, err, ErrFetchExhausted, "url %q", feedURL)
	}
}

func TestFetcher_ConnectionErrorsExhaust(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	feedURL := server.URL
	server.Close()

	_, err := newTestFetcher(2).Fetch(context.Background(), feedURL)
	assert.ErrorIs(t, err, ErrFetchExhausted)
}

func TestFetcher_CancelledContextIsNotAHealthSignal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher(3).Fetch(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrFetchExhausted)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), retryDelay(0, time.Second, 3))
	assert.Equal(t, 100*time.Millisecond, retryDelay(100*time.Millisecond, time.Second, 1))
	assert.Equal(t, 200*time.Millisecond, retryDelay(100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, retryDelay(100*time.Millisecond, time.Second, 3))
	assert.Equal(t, time.Second, retryDelay(100*time.Millisecond, time.Second, 10))
}
