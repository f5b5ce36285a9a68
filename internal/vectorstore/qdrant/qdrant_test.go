package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/storetest"
)

// fakeQdrant serves the subset of the Qdrant REST API the client uses,
// backed by the in-memory store.
type fakeQdrant struct {
	mu    sync.Mutex
	store *memory.Storage
	defs  map[string]domain.Collection
	calls atomic.Int32

	limits []int
}

func newFakeQdrant(t *testing.T, apiKey string) (*httptest.Server, *fakeQdrant) {
	f := &fakeQdrant{store: memory.NewStorage(), defs: make(map[string]domain.Collection)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{name}", f.info)
	mux.HandleFunc("PUT /collections/{name}", f.create)
	mux.HandleFunc("DELETE /collections/{name}", f.drop)
	mux.HandleFunc("PUT /collections/{name}/points", f.upsert)
	mux.HandleFunc("POST /collections/{name}/points/search", f.search)
	mux.HandleFunc("POST /collections/{name}/points/count", f.count)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if apiKey != "" && r.Header.Get("api-key") != apiKey {
			writeErr(w, http.StatusForbidden, "invalid api key")
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, f
}

var fromQdrant = map[string]domain.Distance{"Cosine": domain.DistanceCosine, "Dot": domain.DistanceDot, "Euclid": domain.DistanceEuclidean}

func (f *fakeQdrant) info(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	c, ok := f.defs[r.PathValue("name")]
	f.mu.Unlock()
	if !ok {
		writeErr(w, http.StatusNotFound, "Not found: Collection doesn't exist!")
		return
	}
	var resp collectionInfo
	resp.Result.Config.Params.Vectors.Size = c.Dimension
	resp.Result.Config.Params.Vectors.Distance = distances[c.Distance]
	writeJSON(w, resp)
}

func (f *fakeQdrant) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	c := domain.Collection{Name: r.PathValue("name"), Dimension: req.Vectors.Size, Distance: fromQdrant[req.Vectors.Distance]}
	if err := f.store.CreateCollection(r.Context(), c); err != nil {
		f.fail(w, err)
		return
	}
	f.mu.Lock()
	f.defs[c.Name] = c
	f.mu.Unlock()
	writeJSON(w, map[string]any{"result": true})
}

func (f *fakeQdrant) drop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	f.mu.Lock()
	_, ok := f.defs[name]
	delete(f.defs, name)
	f.mu.Unlock()
	if !ok {
		writeErr(w, http.StatusNotFound, "Not found: Collection doesn't exist!")
		return
	}
	_ = f.store.DeleteCollection(r.Context(), name)
	writeJSON(w, map[string]any{"result": true})
}

func (f *fakeQdrant) upsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points []struct {
			ID      uint64    `json:"id"`
			Vector  []float32 `json:"vector"`
			Payload struct {
				Text string `json:"text"`
			} `json:"payload"`
		} `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	points := make([]domain.IndexedPoint, len(req.Points))
	for i, p := range req.Points {
		points[i] = domain.IndexedPoint{ID: p.ID, Vector: p.Vector, Payload: domain.Payload{Text: p.Payload.Text}}
	}
	if err := f.store.Upsert(r.Context(), r.PathValue("name"), points); err != nil {
		f.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
}

func (f *fakeQdrant) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vector []float32 `json:"vector"`
		Limit  int       `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.PathValue("name")
	n, err := f.store.Count(r.Context(), name)
	if err != nil {
		f.fail(w, err)
		return
	}
	res, err := f.store.Search(r.Context(), name, req.Vector, max(n, req.Limit, 1))
	if err != nil {
		f.fail(w, err)
		return
	}
	// like the real server, ties come back in no particular order
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Score != res[j].Score {
			return res[i].Score > res[j].Score
		}
		return res[i].ID > res[j].ID
	})
	if len(res) > req.Limit {
		res = res[:req.Limit]
	}
	f.mu.Lock()
	euclid := f.defs[name].Distance == domain.DistanceEuclidean
	f.limits = append(f.limits, req.Limit)
	f.mu.Unlock()
	out := make([]map[string]any, len(res))
	for i, sr := range res {
		score := sr.Score
		if euclid {
			score = -score
		}
		out[i] = map[string]any{"id": sr.ID, "score": score, "payload": map[string]any{"text": sr.Text}}
	}
	writeJSON(w, map[string]any{"result": out})
}

func (f *fakeQdrant) count(w http.ResponseWriter, r *http.Request) {
	n, err := f.store.Count(r.Context(), r.PathValue("name"))
	if err != nil {
		f.fail(w, err)
		return
	}
	writeJSON(w, map[string]any{"result": map[string]any{"count": n}})
}

func (f *fakeQdrant) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		writeErr(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error": msg}})
}

func TestStorageBehaviour(t *testing.T) {
	srv, _ := newFakeQdrant(t, "secret")
	storetest.Run(t, NewStorage(Config{URL: srv.URL, APIKey: "secret"}), "qdrant-")
}

func TestStorageRejectsBadAPIKey(t *testing.T) {
	srv, _ := newFakeQdrant(t, "secret")
	s := NewStorage(Config{URL: srv.URL, APIKey: "wrong"})

	_, err := s.CollectionExists(context.Background(), "docs")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndex)
	assert.False(t, domain.IsTransient(err))

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusForbidden, pe.StatusCode)
}

func TestStorageServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusServiceUnavailable, "overloaded")
	}))
	defer srv.Close()

	err := NewStorage(Config{URL: srv.URL}).DeleteCollection(context.Background(), "docs")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndex)
	assert.True(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "overloaded")
}

func TestStorageValidatesBeforeSending(t *testing.T) {
	srv, fake := newFakeQdrant(t, "")
	s := NewStorage(Config{URL: srv.URL})

	err := s.CreateCollection(context.Background(), domain.Collection{Name: "docs", Dimension: 0, Distance: domain.DistanceCosine})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Zero(t, fake.calls.Load())
}

func TestCreateCollectionMapsLegacyConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusBadRequest, "Wrong input: Collection `docs` already exists!")
	}))
	defer srv.Close()

	err := NewStorage(Config{URL: srv.URL}).CreateCollection(context.Background(), domain.Collection{Name: "docs", Dimension: 2, Distance: domain.DistanceDot})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestSearchResolvesTiesPastTheCutoff(t *testing.T) {
	srv, fake := newFakeQdrant(t, "")
	s := NewStorage(Config{URL: srv.URL})
	ctx := context.Background()

	require.NoError(t, s.CreateCollection(ctx, domain.Collection{Name: "ties", Dimension: 2, Distance: domain.DistanceDot}))
	points := make([]domain.IndexedPoint, 30)
	for i := range points {
		points[i] = domain.IndexedPoint{ID: uint64(i), Vector: []float32{1, 0}, Payload: domain.Payload{Text: fmt.Sprintf("p%d", i)}}
	}
	require.NoError(t, s.Upsert(ctx, "ties", points))

	res, err := s.Search(ctx, "ties", []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []uint64{0, 1, 2}, []uint64{res[0].ID, res[1].ID, res[2].ID})

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []int{11, 22, 44}, fake.limits)
}
