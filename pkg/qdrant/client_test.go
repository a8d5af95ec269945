package qdrant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"estate-smart-go/internal/config"
	"estate-smart-go/internal/model"
	"estate-smart-go/pkg/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingIndexRoundTrip(t *testing.T) {
	created := false
	var upserted map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("api-key"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/uybozor_data":
			if !created {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"result":{}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/uybozor_data":
			var body map[string]map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Cosine", body["vectors"]["distance"])
			assert.EqualValues(t, 3, body["vectors"]["size"])
			created = true
			_, _ = w.Write([]byte(`{"result":true}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/uybozor_data/points":
			assert.Equal(t, "true", r.URL.Query().Get("wait"))
			data, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(data, &upserted))
			_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/uybozor_data/points/search":
			_, _ = w.Write([]byte(`{"result":[{"id":11,"score":0.9,"payload":{"id":11,"address":"Sergeli"}},{"id":12,"score":0.4,"payload":{}}]}`))
		case r.URL.Path == "/collections/missing/points/search":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	idx := NewListingIndex(config.QdrantConfig{URL: srv.URL + "/", APIKey: "k"})

	exists, err := idx.CollectionExists(ctx, "uybozor_data")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, idx.CreateCollection(ctx, "uybozor_data", 3))
	exists, err = idx.CollectionExists(ctx, "uybozor_data")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, idx.Upsert(ctx, "uybozor_data", []model.IndexedPoint{{ID: 11, Vector: []float32{1, 0, 0}, Payload: model.ListingPayload{ID: 11}}}))
	points := upserted["points"].([]any)
	require.Len(t, points, 1)
	assert.EqualValues(t, 11, points[0].(map[string]any)["id"])

	res, err := idx.Search(ctx, "uybozor_data", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "Sergeli", res[0].Listing.Address)
	assert.Equal(t, int64(12), res[1].Listing.ID)

	_, err = idx.Search(ctx, "missing", []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestDeleteCollection(t *testing.T) {
	var deleted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		deleted = append(deleted, r.URL.Path)
		switch r.URL.Path {
		case "/collections/uybozor_data":
			_, _ = w.Write([]byte(`{"result":true}`))
		case "/collections/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	idx := NewListingIndex(config.QdrantConfig{URL: srv.URL})
	require.NoError(t, idx.DeleteCollection(ctx, "uybozor_data"))
	require.NoError(t, idx.DeleteCollection(ctx, "gone"))
	assert.Error(t, idx.DeleteCollection(ctx, "broken"))
	assert.Equal(t, []string{"/collections/uybozor_data", "/collections/gone", "/collections/broken"}, deleted)
}
