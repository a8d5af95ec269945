// Package vectorstore 提供进程内的房源向量索引，按余弦相似度精确检索。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"estate-smart-go/internal/model"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

type collection struct {
	dim    int
	points map[int64]model.IndexedPoint
}

// MemoryIndex 把所有点放在内存里，检索时全量扫描。
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// NewMemoryIndex 创建一个空索引。
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*collection)}
}

func (m *MemoryIndex) CollectionExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// CreateCollection 集合已存在且维度相同时什么也不做。
func (m *MemoryIndex) CreateCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, name, c.dim, dim)
		}
		return nil
	}
	m.collections[name] = &collection{dim: dim, points: make(map[int64]model.IndexedPoint)}
	return nil
}

// DeleteCollection 删除集合，集合不存在时不报错。
func (m *MemoryIndex) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

// Upsert 按 ID 覆盖写入。
func (m *MemoryIndex) Upsert(ctx context.Context, name string, points []model.IndexedPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dim {
			return fmt.Errorf("%w: point %d has %d, collection has %d", ErrDimensionMismatch, p.ID, len(p.Vector), c.dim)
		}
	}
	for _, p := range points {
		p.Vector = append([]float32(nil), p.Vector...)
		c.points[p.ID] = p
	}
	return nil
}

// Search 返回至多 k 个点，按相似度降序，分数相同按 ID 升序。
func (m *MemoryIndex) Search(ctx context.Context, name string, vector []float32, k int) ([]model.ScoredListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(vector), c.dim)
	}
	if k <= 0 {
		return []model.ScoredListing{}, nil
	}

	type scored struct {
		id    int64
		score float64
	}
	all := make([]scored, 0, len(c.points))
	for id, p := range c.points {
		all = append(all, scored{id: id, score: Cosine(vector, p.Vector)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})
	if len(all) > k {
		all = all[:k]
	}

	out := make([]model.ScoredListing, 0, len(all))
	for _, s := range all {
		out = append(out, model.ScoredListing{Listing: c.points[s.id].Payload, Score: s.score})
	}
	return out, nil
}

// Count 返回集合中的点数，供测试与日志使用。
func (m *MemoryIndex) Count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

// Cosine 计算余弦相似度。长度不同或任一为零向量时返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
