package model

// EsListingDocument 代表存储在 Elasticsearch 中的房源文档。
type EsListingDocument struct {
	ListingID    int64          `json:"listing_id"`
	Vector       []float32      `json:"vector"`
	ModelVersion string         `json:"model_version"`
	Payload      ListingPayload `json:"payload"`
}
