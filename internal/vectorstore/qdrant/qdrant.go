package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

const provider = "qdrant"

// Storage is a minimal REST client to Qdrant. It keeps no collection state
// between calls; every operation asks the server.
type Storage struct {
	url    string
	apiKey string
	client *http.Client
}

var _ domain.VectorIndex = (*Storage)(nil)

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

var distances = map[domain.Distance]string{
	domain.DistanceCosine:    "Cosine",
	domain.DistanceDot:       "Dot",
	domain.DistanceEuclidean: "Euclid",
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (s *Storage) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.collection(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrCollectionNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Storage) CreateCollection(ctx context.Context, c domain.Collection) error {
	if err := vectorstore.ValidateCollection(c); err != nil {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.Dimension,
			"distance": distances[c.Distance],
		},
	}
	status, err := s.putJSON(ctx, s.collectionPath(c.Name), body)
	if err != nil {
		// older servers answer 400 instead of 409 for an existing collection
		if status == http.StatusConflict || (status == http.StatusBadRequest && strings.Contains(err.Error(), "already exists")) {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, c.Name)
		}
		return err
	}
	return nil
}

func (s *Storage) RecreateCollection(ctx context.Context, c domain.Collection) error {
	if err := vectorstore.ValidateCollection(c); err != nil {
		return err
	}
	if err := s.DeleteCollection(ctx, c.Name); err != nil {
		return err
	}
	return s.CreateCollection(ctx, c)
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	status, err := s.do(ctx, http.MethodDelete, s.collectionPath(name), nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *Storage) Upsert(ctx context.Context, name string, points []domain.IndexedPoint) error {
	info, err := s.collection(ctx, name)
	if err != nil {
		return err
	}
	if err := vectorstore.ValidatePoints(info.Dimension, points); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	body := make([]map[string]any, len(points))
	for i, p := range points {
		body[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": map[string]any{"text": p.Payload.Text},
		}
	}
	_, err = s.putJSON(ctx, s.collectionPath(name)+"/points?wait=true", map[string]any{"points": body})
	return err
}

func (s *Storage) Search(ctx context.Context, name string, vector []float32, topK int) ([]domain.SearchResult, error) {
	info, err := s.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(info.Dimension, vector, topK); err != nil {
		return nil, err
	}
	// Qdrant orders equal scores arbitrarily, so fetch past the cutoff and
	// widen the window until every point tied with the k-th result is seen.
	limit := topK + tieWindow
	for {
		results, err := s.search(ctx, name, info.Distance, vector, limit)
		if err != nil {
			return nil, err
		}
		ranked := vectorstore.Rank(results, len(results))
		if len(ranked) < limit || len(ranked) <= topK || ranked[topK-1].Score != ranked[len(ranked)-1].Score {
			return vectorstore.Rank(ranked, topK), nil
		}
		limit *= 2
	}
}

// tieWindow extra results are requested on top of topK.
const tieWindow = 8

func (s *Storage) search(ctx context.Context, name string, distance domain.Distance, vector []float32, limit int) ([]domain.SearchResult, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      uint64  `json:"id"`
			Score   float64 `json:"score"`
			Payload struct {
				Text string `json:"text"`
			} `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.postJSON(ctx, s.collectionPath(name)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		score := r.Score
		if distance == domain.DistanceEuclidean {
			// Qdrant reports the raw distance for Euclid
			score = -score
		}
		results = append(results, domain.SearchResult{ID: r.ID, Text: r.Payload.Text, Score: score})
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context, name string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := s.postJSON(ctx, s.collectionPath(name)+"/points/count", map[string]any{"exact": true}, &resp)
	if status == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) collection(ctx context.Context, name string) (domain.Collection, error) {
	var info collectionInfo
	status, err := s.do(ctx, http.MethodGet, s.collectionPath(name), nil, &info)
	if status == http.StatusNotFound {
		return domain.Collection{}, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err != nil {
		return domain.Collection{}, err
	}
	c := domain.Collection{Name: name, Dimension: info.Result.Config.Params.Vectors.Size}
	for d, qd := range distances {
		if qd == info.Result.Config.Params.Vectors.Distance {
			c.Distance = d
		}
	}
	if c.Distance == "" || c.Dimension <= 0 {
		return c, fmt.Errorf("%w: collection %s uses an unsupported vector config (%s, size %d)",
			domain.ErrIndex, name, info.Result.Config.Params.Vectors.Distance, c.Dimension)
	}
	return c, nil
}

func (s *Storage) collectionPath(name string) string {
	return s.url + "/collections/" + url.PathEscape(name)
}

func (s *Storage) putJSON(ctx context.Context, endpoint string, body any) (int, error) {
	return s.do(ctx, http.MethodPut, endpoint, body, nil)
}

func (s *Storage) postJSON(ctx context.Context, endpoint string, body, out any) (int, error) {
	return s.do(ctx, http.MethodPost, endpoint, body, out)
}

// do sends one request. The returned status is zero when no response arrived.
func (s *Storage) do(ctx context.Context, method, endpoint string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: encode request: %v", domain.ErrIndex, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", domain.ErrIndex, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, domain.NewProviderError(domain.ErrIndex, provider, 0, fmt.Errorf("%s %s: %w", method, req.URL.Path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Status struct {
				Error string `json:"error"`
			} `json:"status"`
		}
		msg := resp.Status
		if raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); json.Unmarshal(raw, &apiErr) == nil && apiErr.Status.Error != "" {
			msg = apiErr.Status.Error
		}
		return resp.StatusCode, domain.NewProviderError(domain.ErrIndex, provider, resp.StatusCode, fmt.Errorf("%s %s: %s", method, req.URL.Path, msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode %s response: %v", domain.ErrIndex, req.URL.Path, err)
		}
	}
	return resp.StatusCode, nil
}
