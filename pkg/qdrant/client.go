// Package qdrant 是一个精简的 REST 客户端，把房源向量存进 Qdrant 集合。
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/model"
	"estate-smart-go/pkg/vectorstore"
)

// ListingIndex 通过 REST API 访问 Qdrant，点的 ID 即房源 ID。
type ListingIndex struct {
	url    string
	apiKey string
	client *http.Client
}

// NewListingIndex 创建客户端，每次调用的超时由 ctx 决定。
func NewListingIndex(cfg config.QdrantConfig) *ListingIndex {
	return &ListingIndex{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{},
	}
}

func (q *ListingIndex) CollectionExists(ctx context.Context, name string) (bool, error) {
	status, _, err := q.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("qdrant: unexpected status %d checking collection %s", status, name)
	}
}

func (q *ListingIndex) CreateCollection(ctx context.Context, name string, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	status, resp, err := q.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: create collection %s failed: %d %s", name, status, resp)
	}
	return nil
}

// DeleteCollection 删除集合，集合不存在时不报错。
func (q *ListingIndex) DeleteCollection(ctx context.Context, name string) error {
	status, resp, err := q.do(ctx, http.MethodDelete, "/collections/"+name, nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusNotFound {
		return fmt.Errorf("qdrant: delete collection %s failed: %d %s", name, status, resp)
	}
	return nil
}

func (q *ListingIndex) Upsert(ctx context.Context, name string, points []model.IndexedPoint) error {
	if len(points) == 0 {
		return nil
	}
	ps := make([]map[string]any, len(points))
	for i, p := range points {
		ps[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}
	status, resp, err := q.do(ctx, http.MethodPut, "/collections/"+name+"/points?wait=true", map[string]any{"points": ps})
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: upsert into %s failed: %d %s", name, status, resp)
	}
	return nil
}

func (q *ListingIndex) Search(ctx context.Context, name string, vector []float32, k int) ([]model.ScoredListing, error) {
	if k <= 0 {
		return []model.ScoredListing{}, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	status, resp, err := q.do(ctx, http.MethodPost, "/collections/"+name+"/points/search", req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, name)
	}
	if status >= 300 {
		return nil, fmt.Errorf("qdrant: search in %s failed: %d %s", name, status, resp)
	}

	var out struct {
		Result []struct {
			ID      int64                `json:"id"`
			Score   float64              `json:"score"`
			Payload model.ListingPayload `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("qdrant: decode search response: %w", err)
	}
	results := make([]model.ScoredListing, 0, len(out.Result))
	for _, r := range out.Result {
		p := r.Payload
		if p.ID == 0 {
			p.ID = r.ID
		}
		results = append(results, model.ScoredListing{Listing: p, Score: r.Score})
	}
	return results, nil
}

func (q *ListingIndex) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.url+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
