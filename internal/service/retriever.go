package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"estate-smart-go/internal/model"
	"estate-smart-go/internal/repository"
	"estate-smart-go/pkg/embedding"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/retry"
	"estate-smart-go/pkg/vectorstore"
)

// Retriever 把问题向量化后在房源索引中做相似度检索。
type Retriever interface {
	// Retrieve 返回按分数降序、同分按 id 升序排列的最多 k 条结果，k<=0 时使用默认值。
	// 空结果不是错误。
	Retrieve(ctx context.Context, query string, k int) ([]model.ScoredListing, error)
}

// RetrieverOptions 汇总检索的超时与重试设置。
type RetrieverOptions struct {
	Collection       string
	DefaultTopK      int
	EmbeddingTimeout time.Duration
	SearchTimeout    time.Duration
	Retry            retry.Policy
}

type retriever struct {
	embedder embedding.Client
	index    repository.ListingIndex
	opts     RetrieverOptions
}

// NewRetriever 创建一个新的 Retriever 实例。
func NewRetriever(embedder embedding.Client, index repository.ListingIndex, opts RetrieverOptions) Retriever {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	return &retriever{embedder: embedder, index: index, opts: opts}
}

func (r *retriever) Retrieve(ctx context.Context, query string, k int) ([]model.ScoredListing, error) {
	if k <= 0 {
		k = r.opts.DefaultTopK
	}
	log.Infof("[Retriever] 开始检索, query: '%s', topK: %d", query, k)

	// 1. 向量化问题
	var vector []float32
	err := retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		callCtx, cancel := withTimeout(ctx, r.opts.EmbeddingTimeout)
		defer cancel()
		v, err := r.embedder.CreateEmbedding(callCtx, query)
		if err != nil {
			log.Warnf("[Retriever] 向量化失败，准备重试: %v", err)
			return err
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, upstream("embed query", err)
	}
	log.Debugf("[Retriever] 步骤1: 向量化成功, 维度: %d", len(vector))

	// 2. 相似度检索；集合不存在不重试
	var hits []model.ScoredListing
	err = retry.Do(ctx, r.opts.Retry, func(ctx context.Context) error {
		callCtx, cancel := withTimeout(ctx, r.opts.SearchTimeout)
		defer cancel()
		res, err := r.index.Search(callCtx, r.opts.Collection, vector, k)
		if err != nil {
			if errors.Is(err, vectorstore.ErrCollectionNotFound) || errors.Is(err, vectorstore.ErrDimensionMismatch) {
				return retry.Permanent(err)
			}
			log.Warnf("[Retriever] 检索失败，准备重试: %v", err)
			return err
		}
		hits = res
		return nil
	})
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrIndexNotReady, err)
		}
		return nil, upstream("search listings", err)
	}

	// 3. 后端之间的排序语义不完全一致，这里统一排序与截断
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	log.Infof("[Retriever] 检索完成, 返回 %d 条结果", len(hits))
	return hits, nil
}

func sortHits(hits []model.ScoredListing) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Listing.ID < hits[j].Listing.ID
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
