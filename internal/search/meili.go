package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxBooks = "readinglog_books"

// Meili serves catalog lookups from a Meilisearch index.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the books index.
// A failed first health check leaves it unhealthy until the loop recovers.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxBooks,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxBooks, err)
	}

	index := m.client.Index(idxBooks)
	searchable := []string{"title", "author"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxBooks, err)
	}
	sortable := []string{"title"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("search: update sortable attrs for %s: %v", idxBooks, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search returns ranked hits whose title contains query. Meilisearch matches
// on word prefixes and typos, so hits failing the substring rule are dropped.
func (m *Meili) Search(query string, limit int) ([]BookRecord, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.Index(idxBooks).Search(query, &meili.SearchRequest{
		Limit:                int64(limit),
		AttributesToRetrieve: []string{"id", "title", "author", "isbn", "coverImageUrl"},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]BookRecord, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		record := hitToRecord(hit)
		if record.ID == 0 || !titleContains(record.Title, query) {
			continue
		}
		results = append(results, record)
	}
	return results, nil
}

func hitToRecord(hit meili.Hit) BookRecord {
	return BookRecord{
		ID:            decodeInt64(hit, "id"),
		Title:         decodeString(hit, "title"),
		Author:        decodeString(hit, "author"),
		ISBN:          decodeString(hit, "isbn"),
		CoverImageURL: decodeString(hit, "coverImageUrl"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt64(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

// IndexBook adds or updates one book.
func (m *Meili) IndexBook(book BookRecord) error {
	_, err := m.client.Index(idxBooks).AddDocuments([]BookRecord{book}, nil)
	return err
}

// IndexBooks bulk-indexes books.
func (m *Meili) IndexBooks(books []BookRecord) error {
	if len(books) == 0 {
		return nil
	}
	_, err := m.client.Index(idxBooks).AddDocuments(books, nil)
	return err
}
