package cloud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridmem/mcp-memory/internal/memory"
)

func TestDemoStoreRoundTrip(t *testing.T) {
	s := NewDemoStore()
	ctx := context.Background()

	ms, err := s.AddMemory(ctx, "u1", memory.WriteInput{Content: "user prefers typescript"}, nil)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	id := ms[0].ID
	assert.NotEmpty(t, id)
	assert.NotEmpty(t, ms[0].CreatedAt)

	got, err := s.Get(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, "user prefers typescript", got.Content)

	require.NoError(t, s.Delete(ctx, "u1", id))
	_, err = s.Get(ctx, "u1", id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDemoStoreSearch(t *testing.T) {
	s := NewDemoStore()
	ctx := context.Background()

	_, err := s.AddMemory(ctx, "u1", memory.WriteInput{Content: "user prefers typescript and dark mode"}, nil)
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, "u1", memory.WriteInput{Content: "lunch is at noon"}, nil)
	require.NoError(t, err)
	_, err = s.AddMemory(ctx, "u2", memory.WriteInput{Content: "typescript everywhere"}, nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "u1", "typescript", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "typescript")
	assert.Positive(t, results[0].RelevanceScore)

	results, err = s.Search(ctx, "u1", "quantum physics", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDemoStoreListAllIsolatesUsers(t *testing.T) {
	s := NewDemoStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.AddMemory(ctx, "u1", memory.WriteInput{Content: "fact"}, nil)
		require.NoError(t, err)
	}
	_, err := s.AddMemory(ctx, "u2", memory.WriteInput{Content: "other"}, nil)
	require.NoError(t, err)

	ms, err := s.ListAll(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, ms, 5)

	ms, err = s.ListAll(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	assert.Equal(t, 6, s.Len())
}

func TestDemoStoreMessagesInput(t *testing.T) {
	s := NewDemoStore()
	ctx := context.Background()

	ms, err := s.AddMemory(ctx, "u1", memory.WriteInput{Messages: []memory.Message{
		{Role: "user", Content: "remember the meeting"},
		{Role: "assistant", Content: "noted for tomorrow"},
	}}, nil)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "remember the meeting noted for tomorrow", ms[0].Content)

	_, err = s.AddMemory(ctx, "u1", memory.WriteInput{}, nil)
	var verr *memory.ValidationError
	require.ErrorAs(t, err, &verr)
}
