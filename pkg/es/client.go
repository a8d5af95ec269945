// Package es 提供了基于 Elasticsearch dense_vector 的房源向量索引。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/model"
	"estate-smart-go/pkg/log"
	"estate-smart-go/pkg/vectorstore"

	"github.com/elastic/go-elasticsearch/v8"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端。索引由启动引导流程按需创建。
func InitES(esCfg config.ElasticsearchConfig) error {
	client, err := NewClient(esCfg)
	if err != nil {
		return err
	}
	ESClient = client
	return nil
}

// NewClient 创建一个 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// ListingIndex 把 Elasticsearch 索引当作向量集合使用，文档 ID 即房源 ID。
type ListingIndex struct {
	client       *elasticsearch.Client
	modelVersion string
}

// NewListingIndex 创建一个 ListingIndex。
func NewListingIndex(client *elasticsearch.Client, modelVersion string) *ListingIndex {
	return &ListingIndex{client: client, modelVersion: modelVersion}
}

// CollectionExists 检查索引是否存在。200 表示存在，404 表示不存在，其余状态视为错误。
func (i *ListingIndex) CollectionExists(ctx context.Context, name string) (bool, error) {
	res, err := i.client.Indices.Exists([]string{name}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("检查索引是否存在失败: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", name, res.StatusCode)
	}
}

// CreateCollection 创建带 dense_vector 映射的索引，相似度为 cosine。
func (i *ListingIndex) CreateCollection(ctx context.Context, name string, dim int) error {
	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"listing_id":    map[string]interface{}{"type": "long"},
				"model_version": map[string]interface{}{"type": "keyword"},
				"vector": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       dim,
					"index":      true,
					"similarity": "cosine",
				},
				// 载荷只需原样取回，不参与检索
				"payload": map[string]interface{}{"type": "object", "enabled": false},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return err
	}

	res, err := i.client.Indices.Create(
		name,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", name, res.String())
	}
	log.Infof("[ES] 索引 '%s' 创建成功, dims: %d", name, dim)
	return nil
}

// DeleteCollection 删除索引。索引不存在（404）不算错误。
func (i *ListingIndex) DeleteCollection(ctx context.Context, name string) error {
	res, err := i.client.Indices.Delete([]string{name}, i.client.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("删除索引 '%s' 失败: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("删除索引 '%s' 时 Elasticsearch 返回错误: %s", name, res.String())
	}
	log.Warnf("[ES] 索引 '%s' 已删除", name)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 通过 bulk index 写入，同一 ID 的文档被整体替换。
func (i *ListingIndex) Upsert(ctx context.Context, name string, points []model.IndexedPoint) error {
	if len(points) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		meta := map[string]interface{}{"index": map[string]interface{}{"_index": name, "_id": strconv.FormatInt(p.ID, 10)}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		doc := model.EsListingDocument{ListingID: p.ID, Vector: p.Vector, ModelVersion: i.modelVersion, Payload: p.Payload}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	res, err := i.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		i.client.Bulk.WithContext(ctx),
		i.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("bulk 写入失败: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if res.IsError() {
		return fmt.Errorf("bulk 写入时 Elasticsearch 返回错误: %s", res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if br.Errors {
		for _, item := range br.Items {
			for _, r := range item {
				if r.Error != nil {
					return fmt.Errorf("文档 %s 写入失败: %s: %s", r.ID, r.Error.Type, r.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk 写入部分失败")
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Score  float64        `json:"_score"`
			Source EsSearchSource `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// EsSearchSource 是检索时取回的 _source 子集。
type EsSearchSource struct {
	ListingID int64                `json:"listing_id"`
	Payload   model.ListingPayload `json:"payload"`
}

// Search 执行 knn 检索。Elasticsearch 的 cosine 得分为 (1+cos)/2，这里换算回余弦值。
func (i *ListingIndex) Search(ctx context.Context, name string, vector []float32, k int) ([]model.ScoredListing, error) {
	if k <= 0 {
		return []model.ScoredListing{}, nil
	}
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
		"size":    k,
		"_source": []string{"listing_id", "payload"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(name),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, fmt.Errorf("elasticsearch returned an error: %s %s", res.Status(), string(body))
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	out := make([]model.ScoredListing, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		payload := h.Source.Payload
		if payload.ID == 0 {
			payload.ID = h.Source.ListingID
		}
		out = append(out, model.ScoredListing{Listing: payload, Score: 2*h.Score - 1})
	}
	return out, nil
}
