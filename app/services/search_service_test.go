package services

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport answers index-exists checks with a fixed status and
// records every request the client sends.
type recordingTransport struct {
	mu           sync.Mutex
	existsStatus int
	requests     []string
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req.Method+" "+req.URL.Path)
	t.mu.Unlock()

	status := http.StatusOK
	if req.Method == http.MethodHead {
		status = t.existsStatus
	}

	return &http.Response{
		StatusCode: status,
		Header: http.Header{
			"X-Elastic-Product": []string{"Elasticsearch"},
			"Content-Type":      []string{"application/json"},
		},
		Body:    io.NopCloser(strings.NewReader("{}")),
		Request: req,
	}, nil
}

func newTestIndexer(t *testing.T, rt *recordingTransport) *ElasticsearchIndexer {
	t.Helper()

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://localhost:9200"},
		Transport: rt,
	})
	require.NoError(t, err)

	return &ElasticsearchIndexer{es: client, index: "text_index"}
}

func TestEnsureIndexAlreadyExists(t *testing.T) {
	rt := &recordingTransport{existsStatus: http.StatusOK}
	indexer := newTestIndexer(t, rt)

	require.NoError(t, indexer.EnsureIndex(context.Background()))
	assert.Equal(t, []string{"HEAD /text_index"}, rt.requests)
}

func TestEnsureIndexCreatesWhenAbsent(t *testing.T) {
	rt := &recordingTransport{existsStatus: http.StatusNotFound}
	indexer := newTestIndexer(t, rt)

	require.NoError(t, indexer.EnsureIndex(context.Background()))
	assert.Equal(t, []string{"HEAD /text_index", "PUT /text_index"}, rt.requests)
}

func TestEnsureIndexSurfacesCheckFailure(t *testing.T) {
	rt := &recordingTransport{existsStatus: http.StatusInternalServerError}
	indexer := newTestIndexer(t, rt)

	// A failing existence check must not be mistaken for an absent index
	err := indexer.EnsureIndex(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"HEAD /text_index"}, rt.requests)
}
