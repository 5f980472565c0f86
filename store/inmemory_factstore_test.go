package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryFactStore_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemoryFactStore(InMemoryFactStoreConfig{
		Now: func() time.Time { return now },
	}, zap.NewNop())

	id, err := s.LearnFact(ctx, "u1", "User likes jazz", "preference", "conversation", 0.8)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = s.LearnFact(ctx, "", "content", "c", "s", 0.5)
	require.Error(t, err)

	facts, err := s.GetFacts(ctx, "u1", "preference", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "User likes jazz", facts[0].Content)

	// Below min confidence filter.
	facts, err = s.GetFacts(ctx, "u1", "", 10, 0.9)
	require.NoError(t, err)
	assert.Empty(t, facts)

	require.NoError(t, s.UpdateFactConfidence(ctx, id, 1.5))
	facts, err = s.GetFacts(ctx, "u1", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, facts[0].Confidence)

	require.NoError(t, s.TouchFact(ctx, id))
	facts, _ = s.GetFacts(ctx, "u1", "", 10, 0)
	assert.Equal(t, 1, facts[0].AccessCount)

	require.NoError(t, s.DeleteFact(ctx, id))
	facts, _ = s.GetFacts(ctx, "u1", "", 10, 0)
	assert.Empty(t, facts)
}

func TestInMemoryFactStore_SearchOrdersByConfidence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryFactStore(InMemoryFactStoreConfig{}, zap.NewNop())

	_, err := s.LearnFact(ctx, "u1", "enjoys jazz music", "preference", "test", 0.6)
	require.NoError(t, err)
	_, err = s.LearnFact(ctx, "u1", "plays jazz piano", "preference", "test", 0.9)
	require.NoError(t, err)
	_, err = s.LearnFact(ctx, "u1", "dislikes mornings", "preference", "test", 0.95)
	require.NoError(t, err)
	_, err = s.LearnFact(ctx, "u2", "likes jazz too", "preference", "test", 0.99)
	require.NoError(t, err)

	results, err := s.SearchFacts(ctx, "u1", "jazz", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "plays jazz piano", results[0].Content)
	assert.Equal(t, "enjoys jazz music", results[1].Content)
}
