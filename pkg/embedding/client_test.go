package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"estate-smart-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompatibleClientBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)
		// out of order on purpose
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1,0]},{"index":0,"embedding":[1,0,0]}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(config.EmbeddingConfig{Provider: "openai", BaseURL: srv.URL, APIKey: "secret", Model: "m", Dimensions: 3})
	require.NoError(t, err)

	vecs, err := c.CreateEmbeddings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1, 0}, vecs[1])
}

func TestOpenAICompatibleClientRejectsWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(config.EmbeddingConfig{BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)
	_, err = c.CreateEmbedding(context.Background(), "x")
	assert.Error(t, err)
}

func TestOpenAICompatibleClientNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(config.EmbeddingConfig{BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)
	_, err = c.CreateEmbedding(context.Background(), "x")
	assert.Error(t, err)
}

func TestHashClientIsDeterministicAndNormalised(t *testing.T) {
	h := NewHashClient(64)
	a, err := h.CreateEmbedding(context.Background(), "2 xonali kvartira Chilonzor")
	require.NoError(t, err)
	b, err := h.CreateEmbedding(context.Background(), "2 xonali kvartira Chilonzor")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(config.EmbeddingConfig{Provider: "nope"})
	assert.Error(t, err)
}
