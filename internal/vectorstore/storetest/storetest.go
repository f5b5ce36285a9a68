// Package storetest is a behaviour suite every domain.VectorIndex backend must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

// Run exercises idx against the VectorIndex contract. Collection names are
// prefixed with prefix so a shared backend can host parallel runs.
func Run(t *testing.T, idx domain.VectorIndex, prefix string) {
	t.Helper()
	ctx := context.Background()
	name := func(s string) string { return prefix + s }

	t.Run("create and exists", func(t *testing.T) {
		c := domain.Collection{Name: name("lifecycle"), Dimension: 3, Distance: domain.DistanceCosine}
		ok, err := idx.CollectionExists(ctx, c.Name)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, idx.CreateCollection(ctx, c))
		ok, err = idx.CollectionExists(ctx, c.Name)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.ErrorIs(t, idx.CreateCollection(ctx, c), domain.ErrAlreadyExists)

		require.NoError(t, idx.DeleteCollection(ctx, c.Name))
		ok, err = idx.CollectionExists(ctx, c.Name)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, idx.DeleteCollection(ctx, c.Name), "deleting a missing collection")
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		c := domain.Collection{Name: name("upsert"), Dimension: 2, Distance: domain.DistanceDot}
		require.NoError(t, idx.CreateCollection(ctx, c))
		defer idx.DeleteCollection(ctx, c.Name)

		require.NoError(t, idx.Upsert(ctx, c.Name, []domain.IndexedPoint{
			{ID: 0, Vector: []float32{1, 0}, Payload: domain.Payload{Text: "zero"}},
			{ID: 1, Vector: []float32{0, 1}, Payload: domain.Payload{Text: "one"}},
		}))
		require.NoError(t, idx.Upsert(ctx, c.Name, []domain.IndexedPoint{
			{ID: 1, Vector: []float32{0, 2}, Payload: domain.Payload{Text: "one again"}},
		}))

		n, err := idx.Count(ctx, c.Name)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		res, err := idx.Search(ctx, c.Name, []float32{0, 1}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, uint64(1), res[0].ID)
		assert.Equal(t, "one again", res[0].Text)
		assert.InDelta(t, 2.0, res[0].Score, 1e-6)
	})

	t.Run("upsert rejects wrong dimension", func(t *testing.T) {
		c := domain.Collection{Name: name("dims"), Dimension: 3, Distance: domain.DistanceCosine}
		require.NoError(t, idx.CreateCollection(ctx, c))
		defer idx.DeleteCollection(ctx, c.Name)

		err := idx.Upsert(ctx, c.Name, []domain.IndexedPoint{{ID: 0, Vector: []float32{1, 2}}})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("search ranks and truncates", func(t *testing.T) {
		c := domain.Collection{Name: name("search"), Dimension: 2, Distance: domain.DistanceCosine}
		require.NoError(t, idx.CreateCollection(ctx, c))
		defer idx.DeleteCollection(ctx, c.Name)

		require.NoError(t, idx.Upsert(ctx, c.Name, []domain.IndexedPoint{
			{ID: 0, Vector: []float32{0, 1}, Payload: domain.Payload{Text: "orthogonal"}},
			{ID: 1, Vector: []float32{1, 1}, Payload: domain.Payload{Text: "diagonal"}},
			{ID: 2, Vector: []float32{1, 0}, Payload: domain.Payload{Text: "aligned"}},
			{ID: 3, Vector: []float32{2, 0}, Payload: domain.Payload{Text: "aligned twice"}},
		}))

		res, err := idx.Search(ctx, c.Name, []float32{1, 0}, 3)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, []uint64{2, 3, 1}, []uint64{res[0].ID, res[1].ID, res[2].ID}, "equal scores break ties by id")
		assert.Equal(t, "aligned", res[0].Text)
		for i := 1; i < len(res); i++ {
			assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
		}

		res, err = idx.Search(ctx, c.Name, []float32{1, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, res, 4)
	})

	t.Run("euclidean scores are negated distances", func(t *testing.T) {
		c := domain.Collection{Name: name("euclid"), Dimension: 2, Distance: domain.DistanceEuclidean}
		require.NoError(t, idx.CreateCollection(ctx, c))
		defer idx.DeleteCollection(ctx, c.Name)

		require.NoError(t, idx.Upsert(ctx, c.Name, []domain.IndexedPoint{
			{ID: 0, Vector: []float32{3, 4}, Payload: domain.Payload{Text: "far"}},
			{ID: 1, Vector: []float32{1, 0}, Payload: domain.Payload{Text: "near"}},
		}))

		res, err := idx.Search(ctx, c.Name, []float32{0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "near", res[0].Text)
		assert.InDelta(t, -1.0, res[0].Score, 1e-4)
		assert.InDelta(t, -5.0, res[1].Score, 1e-4)
	})

	t.Run("search errors", func(t *testing.T) {
		_, err := idx.Search(ctx, name("missing"), []float32{1, 0}, 1)
		assert.ErrorIs(t, err, domain.ErrCollectionNotFound)

		c := domain.Collection{Name: name("topk"), Dimension: 2, Distance: domain.DistanceDot}
		require.NoError(t, idx.CreateCollection(ctx, c))
		defer idx.DeleteCollection(ctx, c.Name)
		_, err = idx.Search(ctx, c.Name, []float32{1, 0}, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("empty collection returns no results", func(t *testing.T) {
		c := domain.Collection{Name: name("empty"), Dimension: 2, Distance: domain.DistanceDot}
		require.NoError(t, idx.CreateCollection(ctx, c))
		defer idx.DeleteCollection(ctx, c.Name)

		res, err := idx.Search(ctx, c.Name, []float32{1, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, res)
	})

	t.Run("recreate drops points", func(t *testing.T) {
		c := domain.Collection{Name: name("recreate"), Dimension: 2, Distance: domain.DistanceDot}
		require.NoError(t, idx.CreateCollection(ctx, c))
		defer idx.DeleteCollection(ctx, c.Name)
		require.NoError(t, idx.Upsert(ctx, c.Name, []domain.IndexedPoint{{ID: 7, Vector: []float32{1, 1}}}))

		require.NoError(t, idx.RecreateCollection(ctx, c))
		n, err := idx.Count(ctx, c.Name)
		require.NoError(t, err)
		assert.Zero(t, n)

		other := domain.Collection{Name: name("recreate-new"), Dimension: 2, Distance: domain.DistanceDot}
		require.NoError(t, idx.RecreateCollection(ctx, other), "recreating a missing collection creates it")
		defer idx.DeleteCollection(ctx, other.Name)
		ok, err := idx.CollectionExists(ctx, other.Name)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
