package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/vectorstore/storetest"
)

func TestStorageBehaviour(t *testing.T) {
	s, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	storetest.Run(t, s, "sqlite-")
}

func TestStoragePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, domain.Collection{Name: "docs", Dimension: 2, Distance: domain.DistanceCosine}))
	require.NoError(t, s.Upsert(ctx, "docs", []domain.IndexedPoint{
		{ID: 0, Vector: []float32{1, 0}, Payload: domain.Payload{Text: "kept"}},
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	ok, err := s.CollectionExists(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := s.Search(ctx, "docs", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "kept", res[0].Text)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestConcurrentCreateOnSharedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	c := domain.Collection{Name: "docs", Dimension: 2, Distance: domain.DistanceCosine}

	const ingesters = 6
	stores := make([]*Storage, ingesters)
	for i := range stores {
		s, err := Open(ctx, Config{Path: path})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		stores[i] = s
	}

	errs := make([]error, ingesters)
	var wg sync.WaitGroup
	for i, s := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.CreateCollection(ctx, c)
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrAlreadyExists), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, created)
}
