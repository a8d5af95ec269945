package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashClient 是本地的确定性向量化实现，对小写后的单词与相邻词对做特征哈希。
// 不需要网络，用于离线运行和测试。
type HashClient struct {
	dim int
}

// NewHashClient 创建一个输出 dim 维向量的 HashClient，dim 非正时取 384。
func NewHashClient(dim int) *HashClient {
	if dim <= 0 {
		dim = 384
	}
	return &HashClient{dim: dim}
}

func (h *HashClient) Dimensions() int      { return h.dim }
func (h *HashClient) ModelVersion() string { return "hash-v1" }

func (h *HashClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *HashClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashClient) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	add := func(term string, weight float32) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(term))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}
	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
