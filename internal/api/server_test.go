package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/database"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/store"
)

const feedBody = `[
	{"id": 1, "price": 1000, "special": 900, "url": "https://shop.example.com/p/1", "data": {"brand": "BMW"}, "images": ["https://img.example.com/1a.jpg", "https://img.example.com/1b.jpg"]},
	{"id": "2", "price": "500", "url": "https://shop.example.com/p/2"}
]`

type recordingRequests struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingRequests) Publish(ctx context.Context, batch ...events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, batch...)
	return nil
}

type testEnv struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	requests  *recordingRequests
	handler   http.Handler
	feed      *httptest.Server
	deadFeed  *httptest.Server
}

func setupTestEnv(t *testing.T, withRequests bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New("sqlite://file:"+uuid.NewString()+"?mode=memory&cache=shared", "silent")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, feedBody)
	}))
	t.Cleanup(feed.Close)
	deadFeed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(deadFeed.Close)

	log := logger.NewWithWriter("error", io.Discard)
	s := store.New(db.DB)

	fetcherCfg := catalog.DefaultFetcherConfig()
	fetcherCfg.Timeout = time.Second
	orchestrator := catalog.NewOrchestrator(catalog.NewFetcher(fetcherCfg, log), s, log)
	progress := scheduler.NewMemoryProgress()
	sched := scheduler.New(s, orchestrator, log, scheduler.Options{Workers: 2, Progress: progress})
	t.Cleanup(sched.Wait)

	env := &testEnv{store: s, scheduler: sched, feed: feed, deadFeed: deadFeed}
	deps := Dependencies{Store: s, Scheduler: sched, Progress: progress}
	if withRequests {
		env.requests = &recordingRequests{}
		deps.Requests = env.requests
	}

	cfg := &config.Config{Env: "test", CORSAllowedOrigins: []string{"https://admin.example.com"}}
	env.handler = New(cfg, log, deps).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func (e *testEnv) createSource(t *testing.T, url string) models.FeedSource {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/feed-sources", gin.H{"company_id": "company-1", "name": "Main", "url": url})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var src models.FeedSource
	decodeData(t, w, &src)
	return src
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnv(t, false)
	env.do(t, http.MethodGet, "/api/v1/products", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestEnv(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sync", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestFeedSources_CreateAndUpdate(t *testing.T) {
	env := setupTestEnv(t, false)
	ctx := context.Background()

	src := env.createSource(t, env.feed.URL+"/a.json")
	assert.True(t, src.IsValid)

	w := env.do(t, http.MethodPost, "/api/v1/feed-sources", gin.H{"company_id": "company-1", "name": "Dup", "url": env.feed.URL + "/a.json"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/feed-sources", gin.H{"company_id": "company-1", "name": "Bad", "url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Renaming keeps the health flag.
	require.NoError(t, env.store.FeedSources.Invalidate(ctx, src.ID))
	w = env.do(t, http.MethodPut, "/api/v1/feed-sources/"+src.ID, gin.H{"name": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.FeedSource
	decodeData(t, w, &updated)
	assert.Equal(t, "Renamed", updated.Name)
	assert.False(t, updated.IsValid)

	// A new URL gives the source a fresh start.
	w = env.do(t, http.MethodPut, "/api/v1/feed-sources/"+src.ID, gin.H{"url": env.feed.URL + "/b.json", "is_valid": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeData(t, w, &updated)
	assert.True(t, updated.IsValid)

	stored, err := env.store.FeedSources.Get(ctx, src.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsValid)
	assert.Equal(t, env.feed.URL+"/b.json", stored.URL)

	w = env.do(t, http.MethodGet, "/api/v1/feed-sources?company_id=company-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list []models.FeedSource
	decodeData(t, w, &list)
	assert.Len(t, list, 1)

	w = env.do(t, http.MethodGet, "/api/v1/feed-sources/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncSource(t *testing.T) {
	env := setupTestEnv(t, false)
	src := env.createSource(t, env.feed.URL+"/feed.json")

	w := env.do(t, http.MethodPost, "/api/v1/feed-sources/"+src.ID+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result catalog.RunResult
	decodeData(t, w, &result)
	assert.Equal(t, catalog.StateDone, result.State)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 2, result.ImagesAdded)

	w = env.do(t, http.MethodGet, "/api/v1/products?company_id=company-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var products []models.Product
	decodeData(t, w, &products)
	require.Len(t, products, 2)
	assert.Equal(t, "default", products[0].Name)

	var first models.Product
	for _, p := range products {
		if p.PID == "1" {
			first = p
		}
	}
	assert.Len(t, first.Images, 2)
	assert.Equal(t, int64(900), first.PriceSpecial)

	w = env.do(t, http.MethodGet, "/api/v1/products/"+first.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/products/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/feed-sources/"+uuid.NewString()+"/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncSource_UnreachableFeed(t *testing.T) {
	env := setupTestEnv(t, false)
	src := env.createSource(t, env.deadFeed.URL+"/feed.json")

	w := env.do(t, http.MethodPost, "/api/v1/feed-sources/"+src.ID+"/sync", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	stored, err := env.store.FeedSources.Get(context.Background(), src.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsValid)
}

func TestSyncSource_Async(t *testing.T) {
	env := setupTestEnv(t, false)
	src := env.createSource(t, env.feed.URL+"/feed.json")
	w := env.do(t, http.MethodPost, "/api/v1/feed-sources/"+src.ID+"/sync?async=true", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env = setupTestEnv(t, true)
	src = env.createSource(t, env.feed.URL+"/feed.json")
	w = env.do(t, http.MethodPost, "/api/v1/feed-sources/"+src.ID+"/sync?async=true", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, env.requests.events, 1)
	assert.Equal(t, events.TypeSyncRequested, env.requests.events[0].Type)
	assert.Equal(t, src.ID, env.requests.events[0].SourceID)

	w = env.do(t, http.MethodPost, "/api/v1/feed-sources/"+uuid.NewString()+"/sync?async=true", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSweep(t *testing.T) {
	env := setupTestEnv(t, false)
	env.createSource(t, env.feed.URL+"/a.json")
	env.createSource(t, env.feed.URL+"/b.json")
	dead := env.createSource(t, env.deadFeed.URL+"/c.json")

	w := env.do(t, http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started struct {
		SweepID string `json:"sweep_id"`
	}
	decodeData(t, w, &started)
	require.NotEmpty(t, started.SweepID)

	env.scheduler.Wait()

	w = env.do(t, http.MethodGet, "/api/v1/sync/"+started.SweepID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var progress scheduler.Progress
	decodeData(t, w, &progress)
	assert.Equal(t, scheduler.SweepCompleted, progress.Status)
	assert.Equal(t, 3, progress.Processed)
	assert.Equal(t, 3, progress.Total)

	stored, err := env.store.FeedSources.Get(context.Background(), dead.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsValid)

	w = env.do(t, http.MethodGet, "/api/v1/sync/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProducts_SetActive(t *testing.T) {
	env := setupTestEnv(t, false)
	src := env.createSource(t, env.feed.URL+"/feed.json")
	w := env.do(t, http.MethodPost, "/api/v1/feed-sources/"+src.ID+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	product, err := env.store.Products.FindByKey(context.Background(), "company-1", "2")
	require.NoError(t, err)

	w = env.do(t, http.MethodPut, "/api/v1/products/"+product.ID+"/active", gin.H{"active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/feed-sources/"+src.ID+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result catalog.RunResult
	decodeData(t, w, &result)
	assert.Equal(t, 1, result.Frozen)
	assert.Equal(t, 1, result.Updated)

	w = env.do(t, http.MethodGet, "/api/v1/products?active=false", nil)
	var products []models.Product
	decodeData(t, w, &products)
	require.Len(t, products, 1)
	assert.Equal(t, "2", products[0].PID)

	w = env.do(t, http.MethodPut, "/api/v1/products/"+product.ID+"/active", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
