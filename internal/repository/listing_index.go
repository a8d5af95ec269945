package repository

import (
	"context"

	"estate-smart-go/internal/model"
)

// ListingIndex 是向量索引的边界：按集合创建、按 ID 幂等写入、按余弦相似度检索。
// 实现有 es.ListingIndex、qdrant.ListingIndex 与 vectorstore.MemoryIndex。
type ListingIndex interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, dim int) error
	// DeleteCollection 删除集合，集合不存在时返回 nil。
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, name string, points []model.IndexedPoint) error
	Search(ctx context.Context, name string, vector []float32, k int) ([]model.ScoredListing, error)
}
