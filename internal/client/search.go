package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSearchDelay = 300 * time.Millisecond

	msgSearchFailed = "Could not perform book search."
)

// BookSearcher is the part of Client that CatalogSearch needs.
type BookSearcher interface {
	SearchBooks(ctx context.Context, query string, seq int64, viewID string) (SearchResult, error)
}

// SearchState is what a search box shows at one moment.
type SearchState struct {
	Query   string
	Results []Book
	Error   string
	Loading bool
}

type SearchOption func(*CatalogSearch)

// WithDelay overrides the debounce delay.
func WithDelay(d time.Duration) SearchOption {
	return func(c *CatalogSearch) { c.delay = d }
}

// WithOnChange registers a callback run after every state change. It is
// called without the lock held.
func WithOnChange(fn func(SearchState)) SearchOption {
	return func(c *CatalogSearch) { c.onChange = fn }
}

// CatalogSearch debounces typed queries and only ever shows the answer to
// the newest request it fired. Older answers are dropped even if they
// arrive last.
type CatalogSearch struct {
	searcher BookSearcher
	viewID   string
	delay    time.Duration
	onChange func(SearchState)

	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
	seq    int64
	armed  int64
	closed bool
	state  SearchState
}

func NewCatalogSearch(searcher BookSearcher, opts ...SearchOption) *CatalogSearch {
	c := &CatalogSearch{
		searcher: searcher,
		viewID:   uuid.NewString(),
		delay:    DefaultSearchDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetQuery records a keystroke. A blank query clears the results at once
// and sends nothing.
func (c *CatalogSearch) SetQuery(query string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state.Query = query
	c.armed++

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		c.abortLocked()
		c.state.Results = nil
		c.state.Error = ""
		c.state.Loading = false
		state := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(state)
		return
	}

	armed := c.armed
	c.timer = time.AfterFunc(c.delay, func() {
		c.fire(armed, trimmed)
	})
	c.mu.Unlock()
}

// ViewID identifies this search box to the server.
func (c *CatalogSearch) ViewID() string {
	return c.viewID
}

// State returns a copy of the current state.
func (c *CatalogSearch) State() SearchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close stops any pending timer and abandons the in-flight request.
func (c *CatalogSearch) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.abortLocked()
}

func (c *CatalogSearch) fire(armed int64, query string) {
	c.mu.Lock()
	// A timer that fired while SetQuery was replacing it is stale.
	if c.closed || armed != c.armed {
		c.mu.Unlock()
		return
	}
	c.abortLocked()
	seq := c.seq
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state.Loading = true
	state := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(state)

	resp, err := c.searcher.SearchBooks(ctx, query, seq, c.viewID)
	cancel()

	c.mu.Lock()
	if seq != c.seq || c.closed {
		c.mu.Unlock()
		return
	}
	c.cancel = nil
	c.state.Loading = false
	switch {
	case err != nil:
		c.state.Results = nil
		c.state.Error = msgSearchFailed
	case resp.Superseded:
		// The server already saw a newer seq from this view.
	default:
		c.state.Results = resp.Results
		c.state.Error = ""
	}
	state = c.snapshotLocked()
	c.mu.Unlock()
	c.notify(state)
}

// abortLocked cancels the in-flight request and moves seq past it so its
// answer is ignored.
func (c *CatalogSearch) abortLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.seq++
}

func (c *CatalogSearch) snapshotLocked() SearchState {
	state := c.state
	if c.state.Results != nil {
		state.Results = append([]Book(nil), c.state.Results...)
	}
	return state
}

func (c *CatalogSearch) notify(state SearchState) {
	if c.onChange != nil {
		c.onChange(state)
	}
}
