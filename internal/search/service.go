package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"readinglog/api/internal/store"
)

// Service tries Meilisearch first, tops up from Postgres, and drops results
// of searches that a newer search from the same user has overtaken.
type Service struct {
	meili   *Meili
	titles  TitleMatcher
	seq     Sequencer
	flights *inflight
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured. seq defaults to an in-process sequencer.
func NewService(meili *Meili, titles TitleMatcher, seq Sequencer) *Service {
	if seq == nil {
		seq = NewMemorySequencer()
	}
	return &Service{meili: meili, titles: titles, seq: seq, flights: newInflight()}
}

// ViewScope names one search box of one user. Sequencing and cancellation
// are scoped to it, so two tabs of the same user never supersede each
// other. An empty viewID scopes to the user alone.
func ViewScope(userID, viewID string) string {
	if viewID == "" {
		return userID
	}
	return userID + ":" + viewID
}

// Search runs a catalog lookup within scope (see ViewScope). A blank query
// returns no results without touching any backend. seq is optional;
// searches without one are never superseded.
func (s *Service) Search(ctx context.Context, scope, query string, seq *int64) (Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{Results: []BookRecord{}, Seq: seq}, nil
	}

	if seq == nil {
		results, err := s.match(ctx, query)
		if err != nil {
			return Response{}, err
		}
		return Response{Results: results}, nil
	}

	if _, err := s.seq.Advance(ctx, scope, *seq); err != nil {
		log.Printf("search: %v", err)
	}
	runCtx, done := s.flights.begin(ctx, scope, *seq)
	defer done()

	results, err := s.match(runCtx, query)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return superseded(*seq), nil
		}
		return Response{}, err
	}

	latest, err := s.seq.Latest(ctx, scope)
	if err != nil {
		log.Printf("search: %v", err)
	} else if latest > *seq {
		return superseded(*seq), nil
	}
	return Response{Results: results, Seq: seq}, nil
}

func superseded(seq int64) Response {
	return Response{Results: []BookRecord{}, Superseded: true, Seq: &seq}
}

// match merges ranked Meilisearch hits with Postgres matches, keeping the
// first MaxResults distinct books.
func (s *Service) match(ctx context.Context, query string) ([]BookRecord, error) {
	results := make([]BookRecord, 0, MaxResults)
	seen := make(map[int64]bool)

	if s.meili != nil && s.meili.Healthy() {
		hits, err := s.meili.Search(query, MaxResults*2)
		if err != nil {
			log.Printf("search: meilisearch error, falling back to postgres: %v", err)
		}
		for _, hit := range hits {
			if len(results) == MaxResults {
				break
			}
			if seen[hit.ID] {
				continue
			}
			seen[hit.ID] = true
			results = append(results, hit)
		}
	}
	if len(results) == MaxResults {
		return results, nil
	}

	books, err := s.titles.SearchBooksByTitle(ctx, query, MaxResults+len(seen))
	if err != nil {
		return nil, fmt.Errorf("search titles: %w", err)
	}
	for _, book := range books {
		if len(results) == MaxResults {
			break
		}
		if seen[book.ID] {
			continue
		}
		seen[book.ID] = true
		results = append(results, RecordFromBook(book))
	}
	return results, nil
}

// IndexBook indexes a book (fire-and-forget to Meilisearch).
func (s *Service) IndexBook(book store.Book) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromBook(book)
	go func() {
		if err := s.meili.IndexBook(record); err != nil {
			log.Printf("search: index book %d: %v", record.ID, err)
		}
	}()
}

// BookLister pages through the catalog.
type BookLister interface {
	ListBooks(ctx context.Context, afterID int64, limit int) ([]store.Book, error)
}

// ReindexAll pushes every catalog row from Postgres into Meilisearch.
func (s *Service) ReindexAll(ctx context.Context, books BookLister) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	const page = 500
	var after int64
	total := 0
	for {
		batch, err := books.ListBooks(ctx, after, page)
		if err != nil {
			log.Printf("search: reindex load failed: %v", err)
			return
		}
		if len(batch) == 0 {
			break
		}
		records := make([]BookRecord, 0, len(batch))
		for _, book := range batch {
			records = append(records, RecordFromBook(book))
		}
		if err := s.meili.IndexBooks(records); err != nil {
			log.Printf("search: reindex books: %v", err)
			return
		}
		total += len(records)
		after = batch[len(batch)-1].ID
	}
	log.Printf("search: reindexed %d books", total)
}

// inflight tracks the running sequenced search of each scope so a newer one
// can cancel it.
type inflight struct {
	mu      sync.Mutex
	running map[string]*flight
}

type flight struct {
	seq    int64
	cancel context.CancelFunc
}

func newInflight() *inflight {
	return &inflight{running: make(map[string]*flight)}
}

func (f *inflight) begin(ctx context.Context, scope string, seq int64) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	current := &flight{seq: seq, cancel: cancel}

	f.mu.Lock()
	if prev, ok := f.running[scope]; ok && prev.seq < seq {
		prev.cancel()
	}
	if prev, ok := f.running[scope]; !ok || prev.seq <= seq {
		f.running[scope] = current
	}
	f.mu.Unlock()

	return runCtx, func() {
		f.mu.Lock()
		if f.running[scope] == current {
			delete(f.running, scope)
		}
		f.mu.Unlock()
		cancel()
	}
}
