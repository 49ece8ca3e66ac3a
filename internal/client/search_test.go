package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDelay = 10 * time.Millisecond

type searchCall struct {
	query  string
	seq    int64
	viewID string
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls []searchCall
	fn    func(ctx context.Context, query string, seq int64) (SearchResult, error)
}

func (f *fakeSearcher) SearchBooks(ctx context.Context, query string, seq int64, viewID string) (SearchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{query: query, seq: seq, viewID: viewID})
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, query, seq)
	}
	return SearchResult{Results: []Book{{ID: 1, Title: query}}}, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSearcher) snapshot() []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]searchCall(nil), f.calls...)
}

func waitForResults(t *testing.T, s *CatalogSearch, title string) {
	t.Helper()
	require.Eventually(t, func() bool {
		state := s.State()
		return len(state.Results) == 1 && state.Results[0].Title == title
	}, time.Second, 2*time.Millisecond)
}

func TestCatalogSearch_DebouncesKeystrokes(t *testing.T) {
	searcher := &fakeSearcher{}
	s := NewCatalogSearch(searcher, WithDelay(testDelay))
	defer s.Close()

	s.SetQuery("g")
	s.SetQuery("ga")
	s.SetQuery("gat")

	waitForResults(t, s, "gat")
	time.Sleep(3 * testDelay)
	calls := searcher.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "gat", calls[0].query)
}

func TestCatalogSearch_TrimsQuery(t *testing.T) {
	searcher := &fakeSearcher{}
	s := NewCatalogSearch(searcher, WithDelay(testDelay))
	defer s.Close()

	s.SetQuery("  emma  ")
	waitForResults(t, s, "emma")
	assert.Equal(t, "  emma  ", s.State().Query)
}

func TestCatalogSearch_BlankQueryClearsWithoutRequest(t *testing.T) {
	searcher := &fakeSearcher{}
	s := NewCatalogSearch(searcher, WithDelay(testDelay))
	defer s.Close()

	s.SetQuery("emma")
	waitForResults(t, s, "emma")

	s.SetQuery("   ")
	state := s.State()
	assert.Empty(t, state.Results)
	assert.Empty(t, state.Error)
	assert.False(t, state.Loading)

	time.Sleep(3 * testDelay)
	assert.Equal(t, 1, searcher.callCount())
}

func TestCatalogSearch_BlankQueryCancelsPendingTimer(t *testing.T) {
	searcher := &fakeSearcher{}
	s := NewCatalogSearch(searcher, WithDelay(testDelay))
	defer s.Close()

	s.SetQuery("emma")
	s.SetQuery("")

	time.Sleep(3 * testDelay)
	assert.Equal(t, 0, searcher.callCount())
	assert.Empty(t, s.State().Results)
}

func TestCatalogSearch_LateOlderResponseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	var firstCtx context.Context
	var ctxMu sync.Mutex
	searcher := &fakeSearcher{}
	searcher.fn = func(ctx context.Context, query string, seq int64) (SearchResult, error) {
		if query == "old" {
			ctxMu.Lock()
			firstCtx = ctx
			ctxMu.Unlock()
			<-release
			return SearchResult{Results: []Book{{ID: 1, Title: "old"}}}, nil
		}
		return SearchResult{Results: []Book{{ID: 2, Title: query}}}, nil
	}
	s := NewCatalogSearch(searcher, WithDelay(testDelay))
	defer s.Close()

	s.SetQuery("old")
	require.Eventually(t, func() bool { return searcher.callCount() == 1 }, time.Second, time.Millisecond)

	s.SetQuery("new")
	waitForResults(t, s, "new")

	ctxMu.Lock()
	assert.Error(t, firstCtx.Err(), "older request should be cancelled")
	ctxMu.Unlock()

	close(release)
	time.Sleep(3 * testDelay)
	state := s.State()
	require.Len(t, state.Results, 1)
	assert.Equal(t, "new", state.Results[0].Title)

	calls := searcher.snapshot()
	require.Len(t, calls, 2)
	assert.Greater(t, calls[1].seq, calls[0].seq)
	assert.Equal(t, s.ViewID(), calls[0].viewID)
	assert.Equal(t, calls[0].viewID, calls[1].viewID)
}

func TestCatalogSearch_FailureClearsResults(t *testing.T) {
	searcher := &fakeSearcher{}
	s := NewCatalogSearch(searcher, WithDelay(testDelay))
	defer s.Close()

	s.SetQuery("emma")
	waitForResults(t, s, "emma")

	searcher.mu.Lock()
	searcher.fn = func(context.Context, string, int64) (SearchResult, error) {
		return SearchResult{}, &APIError{Status: 502, Code: "SEARCH_FAILED", Message: "Could not perform book search."}
	}
	searcher.mu.Unlock()

	s.SetQuery("emm")
	require.Eventually(t, func() bool {
		return s.State().Error != ""
	}, time.Second, 2*time.Millisecond)
	state := s.State()
	assert.Empty(t, state.Results)
	assert.Equal(t, "Could not perform book search.", state.Error)
	assert.False(t, state.Loading)
}

func TestCatalogSearch_SupersededResponseKeepsDisplay(t *testing.T) {
	searcher := &fakeSearcher{}
	s := NewCatalogSearch(searcher, WithDelay(testDelay))
	defer s.Close()

	s.SetQuery("emma")
	waitForResults(t, s, "emma")

	done := make(chan struct{})
	searcher.mu.Lock()
	searcher.fn = func(context.Context, string, int64) (SearchResult, error) {
		defer close(done)
		return SearchResult{Results: []Book{}, Superseded: true}, nil
	}
	searcher.mu.Unlock()

	s.SetQuery("emmanuel")
	<-done
	require.Eventually(t, func() bool { return !s.State().Loading }, time.Second, time.Millisecond)
	state := s.State()
	require.Len(t, state.Results, 1)
	assert.Equal(t, "emma", state.Results[0].Title)
}

func TestCatalogSearch_OnChangeAndClose(t *testing.T) {
	var mu sync.Mutex
	var seen []SearchState
	searcher := &fakeSearcher{}
	s := NewCatalogSearch(searcher, WithDelay(testDelay), WithOnChange(func(state SearchState) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	}))

	s.SetQuery("emma")
	waitForResults(t, s, "emma")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[len(seen)-1].Loading)
	mu.Unlock()

	s.Close()
	s.SetQuery("persuasion")
	time.Sleep(3 * testDelay)
	assert.Equal(t, 1, searcher.callCount())
}

func TestCatalogSearch_TransportErrorShowsGenericMessage(t *testing.T) {
	searcher := &fakeSearcher{fn: func(context.Context, string, int64) (SearchResult, error) {
		return SearchResult{}, errors.New("connection refused")
	}}
	s := NewCatalogSearch(searcher, WithDelay(testDelay))
	defer s.Close()

	s.SetQuery("emma")
	require.Eventually(t, func() bool {
		return s.State().Error == "Could not perform book search."
	}, time.Second, 2*time.Millisecond)
}
