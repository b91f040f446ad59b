package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshforge/modelcache/pkg/cache/similarity"
	"github.com/meshforge/modelcache/pkg/observability"
)

func newTestIndex(t *testing.T, store *memStore, artifacts *memArtifacts) *Index {
	t.Helper()
	engine, err := similarity.NewEngine(similarity.DefaultConfig())
	require.NoError(t, err)
	return NewIndex(store, artifacts, engine, nil, 50, observability.NewNoopLogger())
}

func seedEntry(store *memStore, artifacts *memArtifacts, e *Entry) {
	store.add(e)
	artifacts.put(e.Artifacts.OBJPath, e.SizeBytes)
}

func TestIndex_InsertThenFindExact(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)
	ctx := context.Background()

	input := InputDescriptor{
		Text:       "a small wooden chair",
		Kind:       TaskText,
		Complexity: ComplexityMedium,
		Format:     FormatOBJ,
	}
	artifacts.put("/models/chair.obj", 2048)

	entry, err := index.Insert(ctx, input, ArtifactRefs{OBJPath: "/models/chair.obj"})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, InputHash(input), entry.InputHash)
	assert.Equal(t, int64(2048), entry.SizeBytes)
	assert.True(t, entry.Cached)

	result, err := index.FindExact(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, result.Entry.ID)
	assert.Equal(t, similarity.MatchExact, result.MatchType)
	assert.Equal(t, 1.0, result.Score)
}

func TestIndex_FindExactMiss(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)

	_, err := index.FindExact(context.Background(), InputDescriptor{
		Text: "nothing here", Kind: TaskText, Complexity: ComplexityLow, Format: FormatOBJ,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndex_FindExactInvalidKind(t *testing.T) {
	index := newTestIndex(t, newMemStore(), newMemArtifacts())

	_, err := index.FindExact(context.Background(), InputDescriptor{Text: "x", Kind: "VIDEO"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIndex_MissingArtifactInvalidatesEntry(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)
	ctx := context.Background()

	entry := testEntry("e1", "a red dragon", 1024)
	seedEntry(store, artifacts, entry)

	// Entry is servable while its file exists.
	result, err := index.FindExact(ctx, entry.Input)
	require.NoError(t, err)
	assert.Equal(t, "e1", result.Entry.ID)

	// Drop the file; the next lookup must miss and tombstone the entry.
	artifacts.drop(entry.Artifacts.OBJPath)
	_, err = index.FindExact(ctx, entry.Input)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.get("e1").Cached)
}

func TestIndex_FindSimilar(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)
	ctx := context.Background()

	close1 := testEntry("close", "a cute cat sitting", 100)
	far := testEntry("far", "an industrial warehouse interior", 100)
	seedEntry(store, artifacts, close1)
	seedEntry(store, artifacts, far)

	result, err := index.FindSimilar(ctx, InputDescriptor{
		Text:       "a cute cat",
		Kind:       TaskText,
		Complexity: ComplexityMedium,
		Format:     FormatOBJ,
	})
	require.NoError(t, err)
	assert.Equal(t, "close", result.Entry.ID)
	assert.GreaterOrEqual(t, result.Score, similarity.DefaultConfig().MediumThreshold)
	assert.True(t, result.MatchType.Usable())
}

func TestIndex_FindSimilarKittenForCat(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)
	ctx := context.Background()

	seedEntry(store, artifacts, testEntry("cat", "a cute cat", 100))

	result, err := index.FindSimilar(ctx, InputDescriptor{
		Text:       "a cute kitten",
		Kind:       TaskText,
		Complexity: ComplexityMedium,
		Format:     FormatOBJ,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Entry)
	assert.Equal(t, "cat", result.Entry.ID)
	assert.True(t, result.MatchType.Usable())
}

func TestIndex_FindSimilarRespectsFilter(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)
	ctx := context.Background()

	other := testEntry("other-format", "a cute cat", 100)
	other.Input.Format = FormatSTL
	other.InputHash = InputHash(other.Input)
	store.add(other)
	artifacts.put(other.Artifacts.OBJPath, 100)

	// Identical text but a different output format must not match.
	_, err := index.FindSimilar(ctx, InputDescriptor{
		Text:       "a cute cat",
		Kind:       TaskText,
		Complexity: ComplexityMedium,
		Format:     FormatOBJ,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndex_FindSimilarNoUsableMatch(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)

	seedEntry(store, artifacts, testEntry("far", "an industrial warehouse interior", 100))

	_, err := index.FindSimilar(context.Background(), InputDescriptor{
		Text:       "a cute cat",
		Kind:       TaskText,
		Complexity: ComplexityMedium,
		Format:     FormatOBJ,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndex_StoreOutageDegradesToMiss(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)
	store.failAll = true

	_, err := index.FindExact(context.Background(), InputDescriptor{
		Text: "anything", Kind: TaskText, Complexity: ComplexityLow, Format: FormatOBJ,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = index.FindSimilar(context.Background(), InputDescriptor{
		Text: "anything", Kind: TaskText, Complexity: ComplexityLow, Format: FormatOBJ,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndex_InsertRequiresPrimaryArtifact(t *testing.T) {
	index := newTestIndex(t, newMemStore(), newMemArtifacts())

	_, err := index.Insert(context.Background(), InputDescriptor{
		Text: "a chair", Kind: TaskText, Complexity: ComplexityLow, Format: FormatOBJ,
	}, ArtifactRefs{GLTFPath: "/models/chair.gltf"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type countingCleaner struct {
	calls int
}

func (c *countingCleaner) MaybeCleanup(ctx context.Context) error {
	c.calls++
	return nil
}

func TestIndex_InsertTriggersCleanupCheck(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)

	cleaner := &countingCleaner{}
	index.SetCleaner(cleaner)

	artifacts.put("/models/x.obj", 10)
	_, err := index.Insert(context.Background(), InputDescriptor{
		Text: "x", Kind: TaskText, Complexity: ComplexityLow, Format: FormatOBJ,
	}, ArtifactRefs{OBJPath: "/models/x.obj"})
	require.NoError(t, err)
	assert.Equal(t, 1, cleaner.calls)
}

func TestIndex_FindMatchesOrderedByScore(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)
	ctx := context.Background()

	exact := testEntry("exact", "a cute cat", 100)
	close1 := testEntry("close", "a cute cat sitting", 100)
	far := testEntry("far", "an industrial warehouse interior", 100)
	seedEntry(store, artifacts, exact)
	seedEntry(store, artifacts, close1)
	seedEntry(store, artifacts, far)

	matches, err := index.FindMatches(ctx, InputDescriptor{
		Text:       "a cute cat",
		Kind:       TaskText,
		Complexity: ComplexityMedium,
		Format:     FormatOBJ,
	}, 0.6, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].Entry.ID)
	assert.Equal(t, similarity.MatchExact, matches[0].MatchType)
	assert.Equal(t, "close", matches[1].Entry.ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	// Listing matches must not bump any counters.
	assert.Zero(t, store.get("exact").AccessCount)
	assert.Zero(t, store.get("close").AccessCount)
}

func TestIndex_FindMatchesHonorsLimitAndThreshold(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)
	ctx := context.Background()

	seedEntry(store, artifacts, testEntry("a", "a cute cat", 100))
	seedEntry(store, artifacts, testEntry("b", "a cute cat sitting", 100))

	input := InputDescriptor{
		Text:       "a cute cat",
		Kind:       TaskText,
		Complexity: ComplexityMedium,
		Format:     FormatOBJ,
	}

	matches, err := index.FindMatches(ctx, input, 0.6, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Entry.ID)

	// A threshold above every non-exact score keeps only the exact match.
	matches, err = index.FindMatches(ctx, input, 0.99, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Entry.ID)
}

func TestIndex_FindMatchesEmpty(t *testing.T) {
	index := newTestIndex(t, newMemStore(), newMemArtifacts())

	matches, err := index.FindMatches(context.Background(), InputDescriptor{
		Text: "anything", Kind: TaskText, Complexity: ComplexityLow, Format: FormatOBJ,
	}, 0.6, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIndex_RecordAccess(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	ctx := context.Background()

	engine, err := similarity.NewEngine(similarity.DefaultConfig())
	require.NoError(t, err)
	tracker := NewAccessTracker(store, time.Hour, 10, observability.NewNoopLogger(), nil)
	index := NewIndex(store, artifacts, engine, tracker, 50, observability.NewNoopLogger())

	seedEntry(store, artifacts, testEntry("e1", "a chair", 10))

	index.RecordAccess("e1", similarity.MatchExact)
	index.RecordAccess("e1", similarity.MatchSemantic)
	index.RecordAccess("e1", similarity.MatchBasic)
	require.NoError(t, tracker.Flush(ctx))

	e := store.get("e1")
	assert.Equal(t, int64(3), e.AccessCount)
	assert.Equal(t, int64(1), e.CacheHitCount)
	assert.Equal(t, int64(2), e.SimilarityUsageCount)
}

func TestIndex_Invalidate(t *testing.T) {
	store := newMemStore()
	artifacts := newMemArtifacts()
	index := newTestIndex(t, store, artifacts)
	ctx := context.Background()

	entry := testEntry("gone", "delete me", 10)
	seedEntry(store, artifacts, entry)

	require.NoError(t, index.Invalidate(ctx, "gone"))
	assert.False(t, store.get("gone").Cached)

	_, err := index.FindExact(ctx, entry.Input)
	assert.ErrorIs(t, err, ErrNotFound)
}
