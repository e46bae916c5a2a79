// Package services provides external service integrations for search indexing
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/amirphl/Kotodama/config"
	"github.com/amirphl/Kotodama/models"
	"github.com/elastic/go-elasticsearch/v8"
)

// SearchIndexer makes persisted message text discoverable by keyword. It is
// a side-effect collaborator of the creation pipeline: indexing failures
// never affect the durability or visibility of the message row itself, only
// its searchability, which is eventually consistent.
type SearchIndexer interface {
	// IndexMessage upserts the message document; safe to call repeatedly.
	IndexMessage(ctx context.Context, message *models.Message) error
	// SearchMessages returns ids of messages in the chat matching keyword.
	SearchMessages(ctx context.Context, chatID uint, keyword string) ([]uint, error)
}

// messageDocument is the indexed shape; mapping is static, only the text
// field is analyzed.
type messageDocument struct {
	ChatID uint   `json:"chat_id"`
	Number int64  `json:"number"`
	Text   string `json:"text"`
}

// ElasticsearchIndexer implements SearchIndexer against an Elasticsearch
// cluster. Document id is the message primary id, so re-indexing the same
// message is an upsert.
type ElasticsearchIndexer struct {
	es    *elasticsearch.Client
	index string
}

// NewElasticsearchIndexer creates the indexer and verifies connectivity
func NewElasticsearchIndexer(cfg config.SearchConfig) (*ElasticsearchIndexer, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	index := cfg.IndexName
	if index == "" {
		index = "text_index"
	}

	indexer := &ElasticsearchIndexer{es: es, index: index}
	return indexer, nil
}

// EnsureIndex creates the index with its static mapping if it does not
// exist yet. Called once at startup.
func (s *ElasticsearchIndexer) EnsureIndex(ctx context.Context) error {
	res, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case 200:
		return nil
	case 404:
		// Index absent, create it below
	default:
		return fmt.Errorf("failed to check index %s: %s", s.index, res.String())
	}

	mapping := `{
		"mappings": {
			"dynamic": false,
			"properties": {
				"chat_id": {"type": "long"},
				"number":  {"type": "long"},
				"text":    {"type": "text"}
			}
		}
	}`

	createRes, err := s.es.Indices.Create(s.index,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("failed to create index %s: %s", s.index, createRes.String())
	}

	return nil
}

func (s *ElasticsearchIndexer) IndexMessage(ctx context.Context, message *models.Message) error {
	doc := messageDocument{
		ChatID: message.ChatID,
		Number: message.Number,
		Text:   message.Text,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal message %d document: %w", message.ID, err)
	}

	res, err := s.es.Index(s.index, bytes.NewReader(body),
		s.es.Index.WithContext(ctx),
		s.es.Index.WithDocumentID(strconv.FormatUint(uint64(message.ID), 10)),
	)
	if err != nil {
		return fmt.Errorf("failed to index message %d: %w", message.ID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to index message %d: %s", message.ID, res.String())
	}

	return nil
}

func (s *ElasticsearchIndexer) SearchMessages(ctx context.Context, chatID uint, keyword string) ([]uint, error) {
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"match": map[string]any{"text": keyword},
				},
				"filter": map[string]any{
					"term": map[string]any{"chat_id": chatID},
				},
			},
		},
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("failed to search messages: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	ids := make([]uint, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		id, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, uint(id))
	}

	return ids, nil
}

// MockSearchIndexer implements SearchIndexer for testing
type MockSearchIndexer struct {
	mu sync.Mutex

	// Docs holds indexed documents keyed by message id
	Docs map[uint]messageDocument

	// FailIndexing makes IndexMessage fail while set
	FailIndexing bool

	// IndexCalls counts IndexMessage invocations
	IndexCalls int
}

// NewMockSearchIndexer creates a new mock search indexer
func NewMockSearchIndexer() *MockSearchIndexer {
	return &MockSearchIndexer{Docs: make(map[uint]messageDocument)}
}

func (m *MockSearchIndexer) IndexMessage(ctx context.Context, message *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IndexCalls++
	if m.FailIndexing {
		return fmt.Errorf("mock indexer: indexing unavailable")
	}

	m.Docs[message.ID] = messageDocument{
		ChatID: message.ChatID,
		Number: message.Number,
		Text:   message.Text,
	}
	return nil
}

func (m *MockSearchIndexer) SearchMessages(ctx context.Context, chatID uint, keyword string) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uint
	for id, doc := range m.Docs {
		if doc.ChatID == chatID && strings.Contains(strings.ToLower(doc.Text), strings.ToLower(keyword)) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
