package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryWorking_SetThenGet(t *testing.T) {
	w := NewInMemoryWorking()
	_, ok := w.Get("missing")
	require.False(t, ok)

	w.Set("k", 42)
	v, ok := w.Get("k")
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestInMemoryEpisodic_AppendThenRecent(t *testing.T) {
	e := NewInMemoryEpisodic()
	ctx := context.Background()

	require.NoError(t, e.Append(ctx, map[string]any{"i": 1}))
	require.NoError(t, e.Append(ctx, map[string]any{"i": 2}))
	require.NoError(t, e.Append(ctx, map[string]any{"i": 3}))

	recent, err := e.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, 2, recent[0]["i"])
	require.Equal(t, 3, recent[1]["i"])
}

func TestInMemoryEpisodic_RecentClampsToAvailableCount(t *testing.T) {
	e := NewInMemoryEpisodic()
	ctx := context.Background()
	require.NoError(t, e.Append(ctx, map[string]any{"i": 1}))

	recent, err := e.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestInMemoryEpisodic_RecentZeroOrNegativeReturnsAll(t *testing.T) {
	e := NewInMemoryEpisodic()
	ctx := context.Background()
	require.NoError(t, e.Append(ctx, map[string]any{"i": 1}))
	require.NoError(t, e.Append(ctx, map[string]any{"i": 2}))

	recent, err := e.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestInMemorySemantic_UpsertThenLookup(t *testing.T) {
	s := NewInMemorySemantic()
	ctx := context.Background()

	_, ok, err := s.Lookup(ctx, "fact")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Upsert(ctx, "fact", map[string]any{"v": "bar"}))
	v, ok, err := s.Lookup(ctx, "fact")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bar", v["v"])
}

func TestInMemorySemantic_UpsertOverwritesExisting(t *testing.T) {
	s := NewInMemorySemantic()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "fact", map[string]any{"v": 1}))
	require.NoError(t, s.Upsert(ctx, "fact", map[string]any{"v": 2}))

	v, ok, err := s.Lookup(ctx, "fact")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, v["v"])
}

func TestInMemoryProcedural_SaveThenLoad(t *testing.T) {
	p := NewInMemoryProcedural()
	ctx := context.Background()

	_, ok, err := p.Load(ctx, "proc")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, p.Save(ctx, "proc", []string{"step1", "step2"}))
	steps, ok, err := p.Load(ctx, "proc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"step1", "step2"}, steps)
}

func TestNewInMemoryHandles_BuildsAllFourHandles(t *testing.T) {
	h := NewInMemoryHandles()
	require.NotNil(t, h.Working)
	require.NotNil(t, h.Episodic)
	require.NotNil(t, h.Semantic)
	require.NotNil(t, h.Procedural)
}
