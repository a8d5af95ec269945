package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/internal/repository"
	"estate-smart-go/pkg/embedding"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/retry"
	"estate-smart-go/pkg/vectorstore"
)

// BootstrapReport 汇总一次建索引的结果。
type BootstrapReport struct {
	Skipped  bool          `json:"skipped"`
	Listings int           `json:"listings"`
	Upserts  int           `json:"upserts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// BootstrapOptions 配置建索引时的批大小、单次调用超时与重试。
type BootstrapOptions struct {
	Collection       string
	EmbedBatchSize   int
	UpsertBatch      int
	EmbeddingTimeout time.Duration
	UpsertTimeout    time.Duration
	Retry            retry.Policy
}

// Bootstrapper 在集合不存在时，从房源库全量构建向量索引。
type Bootstrapper struct {
	listings repository.ListingRepository
	index    repository.ListingIndex
	embedder embedding.Client
	opts     BootstrapOptions
}

// NewBootstrapper 创建一个新的 Bootstrapper 实例。
func NewBootstrapper(listings repository.ListingRepository, index repository.ListingIndex, embedder embedding.Client, opts BootstrapOptions) *Bootstrapper {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 64
	}
	if opts.UpsertBatch <= 0 {
		opts.UpsertBatch = 1000
	}
	return &Bootstrapper{listings: listings, index: index, embedder: embedder, opts: opts}
}

// Bootstrap 集合已存在时直接跳过，不做任何写入。
func (b *Bootstrapper) Bootstrap(ctx context.Context) (*BootstrapReport, error) {
	start := time.Now()
	name := b.opts.Collection

	exists, err := b.index.CollectionExists(ctx, name)
	if err != nil {
		return nil, upstream("check collection", err)
	}
	if exists {
		log.Infof("[Bootstrapper] 集合 %s 已存在，使用现有数据", name)
		return &BootstrapReport{Skipped: true, Elapsed: time.Since(start)}, nil
	}

	// 先读库并向量化，全部成功后才创建集合，失败时不会留下空集合
	listings, err := b.listings.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read listings: %w", err)
	}
	log.Infof("[Bootstrapper] 读取到 %d 条房源", len(listings))

	points, err := EmbedListings(ctx, b.embedder, listings, b.opts)
	if err != nil {
		return nil, err
	}

	log.Infof("[Bootstrapper] 创建集合 %s, 维度: %d", name, b.embedder.Dimensions())
	if err := b.index.CreateCollection(ctx, name, b.embedder.Dimensions()); err != nil {
		return nil, upstream("create collection", err)
	}
	upserts, err := UpsertPoints(ctx, b.index, points, b.opts)
	if err != nil {
		// 删除写了一半的集合，下次启动会重新构建
		dropCtx, cancel := withTimeout(context.WithoutCancel(ctx), b.opts.UpsertTimeout)
		defer cancel()
		if dropErr := b.index.DeleteCollection(dropCtx, name); dropErr != nil {
			log.Errorf("[Bootstrapper] 删除未完成的集合 %s 失败: %v", name, dropErr)
		}
		return nil, err
	}
	report := &BootstrapReport{Listings: len(listings), Upserts: upserts, Elapsed: time.Since(start)}
	log.Infof("[Bootstrapper] 索引构建完成, 房源: %d, 写入批次: %d, 耗时: %s", report.Listings, report.Upserts, report.Elapsed)
	return report, nil
}

// EmbedListings 按 EmbedBatchSize 分批向量化，每次尝试受 EmbeddingTimeout 限制。
// 点的 ID 即房源 ID，重复写入会覆盖旧的向量与载荷。
func EmbedListings(ctx context.Context, embedder embedding.Client, listings []model.Listing, opts BootstrapOptions) ([]model.IndexedPoint, error) {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 64
	}

	points := make([]model.IndexedPoint, 0, len(listings))
	for startIdx := 0; startIdx < len(listings); startIdx += opts.EmbedBatchSize {
		end := min(startIdx+opts.EmbedBatchSize, len(listings))
		batch := listings[startIdx:end]

		payloads := make([]model.ListingPayload, len(batch))
		texts := make([]string, len(batch))
		for i := range batch {
			payloads[i] = batch[i].Payload()
			texts[i] = payloads[i].Canonical()
		}

		var vectors [][]float32
		err := retry.Do(ctx, opts.Retry, func(ctx context.Context) error {
			callCtx, cancel := withTimeout(ctx, opts.EmbeddingTimeout)
			defer cancel()
			v, err := embedder.CreateEmbeddings(callCtx, texts)
			if err != nil {
				log.Warnf("[Bootstrapper] 批量向量化失败，准备重试: %v", err)
				return err
			}
			vectors = v
			return nil
		})
		if err != nil {
			return nil, upstream("embed listings", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding returned %d vectors for %d listings", len(vectors), len(batch))
		}
		for i := range batch {
			points = append(points, model.IndexedPoint{ID: payloads[i].ID, Vector: vectors[i], Payload: payloads[i]})
		}
	}
	return points, nil
}

// UpsertPoints 按 UpsertBatch 分批写入，每次尝试受 UpsertTimeout 限制，返回写入请求的次数。
func UpsertPoints(ctx context.Context, index repository.ListingIndex, points []model.IndexedPoint, opts BootstrapOptions) (int, error) {
	if opts.UpsertBatch <= 0 {
		opts.UpsertBatch = 1000
	}

	upserts := 0
	for startIdx := 0; startIdx < len(points); startIdx += opts.UpsertBatch {
		end := min(startIdx+opts.UpsertBatch, len(points))
		err := retry.Do(ctx, opts.Retry, func(ctx context.Context) error {
			callCtx, cancel := withTimeout(ctx, opts.UpsertTimeout)
			defer cancel()
			err := index.Upsert(callCtx, opts.Collection, points[startIdx:end])
			if errors.Is(err, vectorstore.ErrCollectionNotFound) || errors.Is(err, vectorstore.ErrDimensionMismatch) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			return upserts, upstream("upsert points", err)
		}
		upserts++
	}
	return upserts, nil
}
