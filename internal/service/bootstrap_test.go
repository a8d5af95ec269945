package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/internal/repository"
	"estate-smart-go/pkg/embedding"
	"estate-smart-go/pkg/retry"
	"estate-smart-go/pkg/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingIndex 统计写入请求次数。
type countingIndex struct {
	*vectorstore.MemoryIndex
	upserts atomic.Int32
}

func (c *countingIndex) Upsert(ctx context.Context, name string, points []model.IndexedPoint) error {
	c.upserts.Add(1)
	return c.MemoryIndex.Upsert(ctx, name, points)
}

// flakyEmbedder 前 failures 次批量调用返回错误。
type flakyEmbedder struct {
	embedding.Client
	failures atomic.Int32
}

func (f *flakyEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("embedding quota exceeded")
	}
	return f.Client.CreateEmbeddings(ctx, texts)
}

// blockingEmbedder 一直阻塞到 ctx 结束。
type blockingEmbedder struct {
	embedding.Client
	calls atomic.Int32
}

func (b *blockingEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	b.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingUpsertIndex 写入总是失败。
type failingUpsertIndex struct {
	*vectorstore.MemoryIndex
}

func (failingUpsertIndex) Upsert(ctx context.Context, name string, points []model.IndexedPoint) error {
	return errors.New("es bulk rejected")
}

func indexListings(ctx context.Context, emb embedding.Client, idx repository.ListingIndex, listings []model.Listing, opts BootstrapOptions) error {
	points, err := EmbedListings(ctx, emb, listings, opts)
	if err != nil {
		return err
	}
	_, err = UpsertPoints(ctx, idx, points, opts)
	return err
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	listings := repository.NewListingRepository(db)
	require.NoError(t, listings.Upsert(ctx, testListings()))

	idx := &countingIndex{MemoryIndex: vectorstore.NewMemoryIndex()}
	b := NewBootstrapper(listings, idx, embedding.NewHashClient(32), BootstrapOptions{Collection: "c", EmbedBatchSize: 3, UpsertBatch: 4})

	first, err := b.Bootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, 7, first.Listings)
	assert.Equal(t, 2, first.Upserts)
	assert.Equal(t, 7, idx.Count("c"))

	second, err := b.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.Upserts)
	assert.Equal(t, int32(2), idx.upserts.Load())
	assert.Equal(t, 7, idx.Count("c"))
}

func TestReindexReplacesPointsById(t *testing.T) {
	ctx := context.Background()
	idx := vectorstore.NewMemoryIndex()
	require.NoError(t, idx.CreateCollection(ctx, "c", 16))
	emb := embedding.NewHashClient(16)

	listings := testListings()[:2]
	require.NoError(t, indexListings(ctx, emb, idx, listings, BootstrapOptions{Collection: "c"}))

	listings[0].Address = "Yakkasaroy 1"
	require.NoError(t, indexListings(ctx, emb, idx, listings[:1], BootstrapOptions{Collection: "c"}))
	assert.Equal(t, 2, idx.Count("c"))

	v, err := emb.CreateEmbedding(ctx, listings[0].Payload().Canonical())
	require.NoError(t, err)
	hits, err := idx.Search(ctx, "c", v, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Yakkasaroy 1", hits[0].Listing.Address)
}

func TestBootstrapRecoversAfterEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	listings := repository.NewListingRepository(db)
	require.NoError(t, listings.Upsert(ctx, testListings()))

	idx := vectorstore.NewMemoryIndex()
	emb := &flakyEmbedder{Client: embedding.NewHashClient(32)}
	emb.failures.Store(1)
	b := NewBootstrapper(listings, idx, emb, BootstrapOptions{Collection: "c"})

	_, err := b.Bootstrap(ctx)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	exists, err := idx.CollectionExists(ctx, "c")
	require.NoError(t, err)
	assert.False(t, exists)

	report, err := b.Bootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 7, idx.Count("c"))
}

func TestBootstrapDropsCollectionWhenUpsertFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	listings := repository.NewListingRepository(db)
	require.NoError(t, listings.Upsert(ctx, testListings()))

	idx := failingUpsertIndex{MemoryIndex: vectorstore.NewMemoryIndex()}
	b := NewBootstrapper(listings, idx, embedding.NewHashClient(32), BootstrapOptions{Collection: "c", Retry: retry.Policy{MaxAttempts: 2}})

	_, err := b.Bootstrap(ctx)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	exists, err := idx.CollectionExists(ctx, "c")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEmbedListingsBoundsEachCall(t *testing.T) {
	ctx := context.Background()
	idx := vectorstore.NewMemoryIndex()
	require.NoError(t, idx.CreateCollection(ctx, "c", 16))
	emb := &blockingEmbedder{Client: embedding.NewHashClient(16)}

	start := time.Now()
	err := indexListings(ctx, emb, idx, testListings(), BootstrapOptions{
		Collection:       "c",
		EmbeddingTimeout: 20 * time.Millisecond,
		Retry:            retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond},
	})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), emb.calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, idx.Count("c"))
}
